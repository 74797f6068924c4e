package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

// NewClient builds a tier router from the configured fast and powerful models.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newModelClient(ctx, cfg, cfg.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fast tier client: %w", err)
	}
	powerful, err := newModelClient(ctx, cfg, cfg.DefaultPowerfulModel, logger)
	if err != nil {
		fast.Close()
		return nil, fmt.Errorf("failed to initialize powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}

// resolveModel looks name up in the models map. Unlisted names are treated as
// Gemini model identifiers. Missing keys fall back to the shared API key.
func resolveModel(cfg config.LLMConfig, name string) (config.LLMModelConfig, error) {
	if name == "" {
		return config.LLMModelConfig{}, fmt.Errorf("no model configured")
	}
	mc, ok := cfg.Models[name]
	if !ok {
		mc = config.LLMModelConfig{Model: name}
	}
	if mc.Model == "" {
		mc.Model = name
	}
	if mc.Provider == "" {
		mc.Provider = config.ProviderGemini
	}
	if mc.APIKey == "" {
		mc.APIKey = cfg.APIKey
	}
	return mc, nil
}

func newModelClient(ctx context.Context, cfg config.LLMConfig, name string, logger *zap.Logger) (schemas.LLMClient, error) {
	mc, err := resolveModel(cfg, name)
	if err != nil {
		return nil, err
	}
	switch mc.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, mc, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", mc.Provider, config.ProviderGemini)
	}
}
