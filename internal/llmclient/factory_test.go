package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

func TestNewClient_RouterInitialization(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultFastModel:     "FastAlias",
		DefaultPowerfulModel: "gemini-2.5-pro",
		APIKey:               "shared-key",
		Models: map[string]config.LLMModelConfig{
			"FastAlias": {Provider: config.ProviderGemini, Model: "gemini-2.5-flash", APIKey: "key-fast"},
		},
	}

	client, err := NewClient(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	router, ok := client.(*LLMRouter)
	require.True(t, ok, "the created client should be an *LLMRouter")

	fast, ok := router.clients[schemas.TierFast].(*GeminiClient)
	require.True(t, ok)
	assert.Equal(t, "gemini-2.5-flash", fast.config.Model)
	assert.Equal(t, "key-fast", fast.config.APIKey)

	powerful, ok := router.clients[schemas.TierPowerful].(*GeminiClient)
	require.True(t, ok)
	assert.Equal(t, "gemini-2.5-pro", powerful.config.Model)
	assert.Equal(t, "shared-key", powerful.config.APIKey)
}

func TestNewClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr string
	}{
		{
			name:    "missing api key",
			cfg:     config.LLMConfig{DefaultFastModel: "a", DefaultPowerfulModel: "b"},
			wantErr: "Gemini API Key is required",
		},
		{
			name:    "missing model name",
			cfg:     config.LLMConfig{DefaultFastModel: "a", APIKey: "k"},
			wantErr: "no model configured",
		},
		{
			name: "unsupported provider",
			cfg: config.LLMConfig{
				DefaultFastModel: "local", DefaultPowerfulModel: "b", APIKey: "k",
				Models: map[string]config.LLMModelConfig{"local": {Provider: "ollama"}},
			},
			wantErr: "unknown or unsupported LLM provider configured: 'ollama'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.cfg, zap.NewNop())
			assert.Nil(t, client)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
