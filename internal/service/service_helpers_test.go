package service

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
)

func TestMain(m *testing.M) {
	cfg := config.NewDefaultConfig()
	cfg.Logger.Level = "error"
	observability.InitializeLogger(cfg.Logger)

	exitCode := m.Run()

	observability.Sync()
	os.Exit(exitCode)
}

// MockCloser is a mock io.Closer.
type MockCloser struct {
	mock.Mock
}

func (m *MockCloser) Close() error {
	return m.Called().Error(0)
}

// MockPool records Close calls the way *pgxpool.Pool would receive them.
type MockPool struct {
	mock.Mock
}

func (m *MockPool) Close() {
	m.Called()
}

// MockLLMClient is a mock implementation of schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.GenerationResponse), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// offlineConfig returns a valid configuration that needs no external service.
func offlineConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Orchestrator.ValidateAfterDeterministic = false
	cfg.Orchestrator.ValidateAfterLLM = false
	cfg.Orchestrator.MaxLLMAttempts = 0
	cfg.Cache.Enabled = false
	cfg.Database.URL = ""
	cfg.LLM.APIKey = ""
	return cfg
}

func startRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}
