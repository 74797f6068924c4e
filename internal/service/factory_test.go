package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

func TestCreate_Offline(t *testing.T) {
	components, err := NewComponentFactory().Create(context.Background(), offlineConfig(), zap.NewNop())
	require.NoError(t, err)
	defer components.Shutdown()

	assert.NotNil(t, components.Orchestrator)
	assert.NotNil(t, components.Metrics)
	assert.Nil(t, components.Store, "no database is configured")
	assert.Nil(t, components.Browser, "validation is off")
	assert.Nil(t, components.Cache)
	assert.Nil(t, components.LLM)

	families, err := components.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
	assert.True(t, names["mender_fix_patches_applied_total"])
}

func TestCreate_OfflineRepairsDocuments(t *testing.T) {
	components, err := NewComponentFactory().Create(context.Background(), offlineConfig(), zap.NewNop())
	require.NoError(t, err)
	defer components.Shutdown()

	res := components.Orchestrator.Fix(context.Background(), "<html><body><p>fine</p></body></html>")
	assert.True(t, res.Success)
	assert.Equal(t, schemas.PhaseComplete, res.PhasesCompleted[len(res.PhasesCompleted)-1])
}

func TestCreate_ValidationWithCache(t *testing.T) {
	mr := startRedis(t)
	cfg := offlineConfig()
	cfg.Orchestrator.ValidateAfterDeterministic = true
	cfg.Cache.Enabled = true
	cfg.Cache.Address = mr.Addr()

	components, err := NewComponentFactory().Create(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, components.Browser, "the browser is created lazily but always owned by the components")
	assert.NotNil(t, components.Cache)
	assert.Positive(t, mr.CurrentConnectionCount())

	components.Shutdown()
	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCreate_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("MalformedDatabaseURL", func(t *testing.T) {
		cfg := offlineConfig()
		cfg.Database.URL = "not a dsn"

		_, err := NewComponentFactory().Create(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to parse PGX pool config")
	})

	t.Run("UnreachableCache", func(t *testing.T) {
		mr := startRedis(t)
		addr := mr.Addr()
		mr.Close()

		cfg := offlineConfig()
		cfg.Orchestrator.ValidateAfterLLM = true
		cfg.Cache.Enabled = true
		cfg.Cache.Address = addr

		_, err := NewComponentFactory().Create(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping redis")
	})

	t.Run("MissingAPIKeyReleasesCache", func(t *testing.T) {
		mr := startRedis(t)
		cfg := offlineConfig()
		cfg.Orchestrator.ValidateAfterLLM = true
		cfg.Orchestrator.MaxLLMAttempts = 2
		cfg.Cache.Enabled = true
		cfg.Cache.Address = mr.Addr()

		_, err := NewComponentFactory().Create(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize LLM client")
		assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("InvalidOrchestratorConfig", func(t *testing.T) {
		cfg := offlineConfig()
		cfg.Orchestrator.GlobalTimeoutSeconds = 0

		_, err := NewComponentFactory().Create(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create orchestrator")
	})
}

func TestValidationEnabled(t *testing.T) {
	assert.False(t, validationEnabled(config.OrchestratorConfig{}))
	assert.True(t, validationEnabled(config.OrchestratorConfig{ValidateAfterLLM: true}))
	assert.True(t, validationEnabled(config.OrchestratorConfig{ValidateAfterDeterministic: true}))
}
