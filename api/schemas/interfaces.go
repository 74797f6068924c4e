package schemas

import (
	"context"
)

// -- Repair Pipeline Collaborators --

// Classifier turns a document into classified errors.
type Classifier interface {
	// Classify may consult a live rendering. When obs is nil the classifier
	// gathers its own observations if it has a probe configured.
	Classify(ctx context.Context, document string, obs *PageObservations) (ErrorReport, error)
	// ClassifyStatic uses analyzer output only.
	ClassifyStatic(ctx context.Context, document string) (ErrorReport, error)
}

// RuleEngine maps rule-fixable errors to patches. Implementations must be pure.
type RuleEngine interface {
	ApplyRules(errs []ClassifiedError) PatchSet
}

// Injector applies a patch set to a document snapshot.
type Injector interface {
	Inject(document string, set PatchSet) InjectionResult
}

// SandboxValidator renders a document in isolation and exercises every
// interactive element. It owns its rendering resource for the duration of one
// call.
type SandboxValidator interface {
	Validate(ctx context.Context, document string) (ValidationResult, error)
}

// PageProbe loads a document once and reports what the live page shows.
type PageProbe interface {
	Probe(ctx context.Context, document string) (PageObservations, error)
}

// GenerativeFixer makes one bounded, stateless repair attempt.
type GenerativeFixer interface {
	Fix(ctx context.Context, errs []ClassifiedError, document string, screenshots [][]byte) (LLMFixResult, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls sampling and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// ImagePart is an inline image attached to a request.
type ImagePart struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []ImagePart       `json:"images,omitempty"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// GenerationResponse carries the model output and its token usage.
type GenerationResponse struct {
	Text             string `json:"text"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
	// Close cleans up any resources held by the client.
	Close() error
}
