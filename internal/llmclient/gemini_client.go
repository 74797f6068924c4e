package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

// contentGenerator is the slice of the genai Models service the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient for Google Gemini models.
type GeminiClient struct {
	models contentGenerator
	config config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. No request is made until Generate.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model name is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.Endpoint
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		models: client.Models,
		config: cfg,
		logger: logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
	}, nil
}

// Generate sends one request. Retrying is left to the caller.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	startTime := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.config.Model, contents, c.buildConfig(req))
	duration := time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("gemini API blocked the prompt (Reason: %s)", resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("gemini API returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
			return nil, fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason)
		}
		return nil, fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
	}

	out := &schemas.GenerationResponse{Text: resp.Text(), Model: c.config.Model}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}

	c.logger.Info("LLM generation complete (Gemini)",
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", out.PromptTokens),
		zap.Int("completion_tokens", out.CompletionTokens),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SafetySettings: c.safetySettings()}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	cfg.Temperature = genai.Ptr(temperature)

	if topP := float32(req.Options.TopP); topP > 0 {
		cfg.TopP = genai.Ptr(topP)
	} else if c.config.TopP > 0 {
		cfg.TopP = genai.Ptr(c.config.TopP)
	}
	if topK := req.Options.TopK; topK > 0 {
		cfg.TopK = genai.Ptr(float32(topK))
	} else if c.config.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(c.config.TopK))
	}

	maxTokens := req.Options.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	categories := make([]string, 0, len(c.config.SafetyFilters))
	for category := range c.config.SafetyFilters {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(c.config.SafetyFilters[category]),
		})
	}
	return settings
}

// Close releases nothing; the genai client holds no persistent connections.
func (c *GeminiClient) Close() error {
	return nil
}
