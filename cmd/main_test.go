// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/service"
)

func TestMain(m *testing.M) {
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	os.Exit(m.Run())
}

// offlineConfigYAML turns off every external dependency.
const offlineConfigYAML = `
logger:
  level: fatal
orchestrator:
  max_llm_attempts: 0
  validate_after_deterministic: false
  validate_after_llm: false
cache:
  enabled: false
`

// fakeFactory fails or delegates to the production factory.
type fakeFactory struct {
	err   error
	calls int
	last  *config.Config
}

func (f *fakeFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.Components, error) {
	f.calls++
	f.last = cfg
	if f.err != nil {
		return nil, f.err
	}
	return service.NewComponentFactory().Create(ctx, cfg, logger)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// executeCommand runs a fresh root command with the offline config file.
func executeCommand(t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", offlineConfigYAML)

	root := newRootCmd(factory)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func offlineConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Orchestrator.MaxLLMAttempts = 0
	cfg.Orchestrator.ValidateAfterDeterministic = false
	cfg.Orchestrator.ValidateAfterLLM = false
	cfg.Database.URL = ""
	return cfg
}
