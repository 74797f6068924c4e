// Package genfix asks a language model to repair errors that no rule covers.
package genfix

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/llmutil"
)

const systemPrompt = `You repair generated web pages. You receive an HTML document and a list of defects found by static analysis and a headless browser. Fix every defect with the smallest change that keeps the page's intent: define missing functions, add missing elements or guard lookups, correct syntax. Never remove working functionality. Answer with a single JSON object.`

const responseContract = `Respond with JSON only:
{"fixed_html": "<the complete repaired document>", "patches": [{"selector": "<css selector>", "set": [{"name": "<css property>", "value": "<value>"}], "remove": ["<css property>"]}]}
"patches" is optional and only for purely visual fixes.`

// repairPayload is the JSON shape requested from the model.
type repairPayload struct {
	FixedHTML string `json:"fixed_html"`
	Patches   []struct {
		Selector string             `json:"selector"`
		Set      []schemas.Property `json:"set"`
		Remove   []string           `json:"remove"`
	} `json:"patches"`
}

// Fixer implements schemas.GenerativeFixer. Each Fix makes at most one model
// call; retries belong to the caller.
type Fixer struct {
	client            schemas.LLMClient
	injector          schemas.Injector
	limiter           *rate.Limiter
	maxDocumentBytes  int
	attachScreenshots bool
	logger            *zap.Logger
}

var _ schemas.GenerativeFixer = (*Fixer)(nil)

// New creates a fixer. injector applies any CSS patches the model returns.
func New(client schemas.LLMClient, injector schemas.Injector, cfg config.LLMConfig, logger *zap.Logger) *Fixer {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	return &Fixer{
		client:            client,
		injector:          injector,
		limiter:           rate.NewLimiter(limit, 1),
		maxDocumentBytes:  cfg.MaxDocumentBytes,
		attachScreenshots: cfg.AttachScreenshots,
		logger:            logger.Named("genfix"),
	}
}

// Fix makes one repair attempt for the errors that need generative repair.
// Model failures are reported in the result; only context errors are returned.
func (f *Fixer) Fix(ctx context.Context, errs []schemas.ClassifiedError, document string, screenshots [][]byte) (schemas.LLMFixResult, error) {
	var result schemas.LLMFixResult

	targets := make([]schemas.ClassifiedError, 0, len(errs))
	for _, e := range errs {
		if e.RequiresGenerativeRepair {
			targets = append(targets, e)
		}
	}
	if len(targets) == 0 {
		result.Error = "no errors require generative repair"
		return result, nil
	}
	if f.maxDocumentBytes > 0 && len(document) > f.maxDocumentBytes {
		result.Error = fmt.Sprintf("document is %d bytes, limit is %d", len(document), f.maxDocumentBytes)
		return result, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Error = err.Error()
		return result, nil
	}

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(targets, document),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
	}
	if f.attachScreenshots {
		for _, shot := range screenshots {
			if len(shot) > 0 {
				req.Images = append(req.Images, schemas.ImagePart{MIMEType: "image/png", Data: shot})
			}
		}
	}

	resp, err := f.client.Generate(ctx, req)
	result.CallsMade = 1
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		f.logger.Warn("Generative repair call failed", zap.Error(err))
		result.Error = err.Error()
		return result, nil
	}
	result.TokensUsed = resp.TotalTokens
	if result.TokensUsed == 0 {
		result.TokensUsed = resp.PromptTokens + resp.CompletionTokens
	}

	f.apply(&result, resp.Text, document)
	f.logger.Debug("Generative repair finished",
		zap.Bool("success", result.Success),
		zap.Int("errors", len(targets)),
		zap.Int("tokens", result.TokensUsed),
	)
	return result, nil
}

// apply turns model output into a candidate document.
func (f *Fixer) apply(result *schemas.LLMFixResult, output, original string) {
	payload, err := llmutil.ParseJSONResponse[repairPayload](output)
	if err != nil || (payload.FixedHTML == "" && len(payload.Patches) == 0) {
		// Some models ignore the JSON contract and answer with the page itself.
		if doc, ok := llmutil.ExtractHTMLDocument(output); ok {
			result.FixedDocument = doc
		}
	} else {
		if payload.FixedHTML != "" {
			if doc, ok := llmutil.ExtractHTMLDocument(payload.FixedHTML); ok {
				result.FixedDocument = doc
			}
		}
		if len(payload.Patches) > 0 {
			set := schemas.PatchSet{Source: schemas.SourceGenerative}
			for _, p := range payload.Patches {
				set.Patches = append(set.Patches, schemas.Patch{
					TargetSelector:     p.Selector,
					PropertiesToSet:    p.Set,
					PropertiesToRemove: p.Remove,
				})
			}
			result.Patches = &set

			base := result.FixedDocument
			if base == "" {
				base = original
			}
			if inj := f.injector.Inject(base, set); inj.Success {
				result.FixedDocument = inj.Document
			}
		}
	}

	switch {
	case result.FixedDocument == "":
		result.Error = "model returned no usable repair"
	case strings.TrimSpace(result.FixedDocument) == strings.TrimSpace(original):
		result.FixedDocument = ""
		result.Error = "model returned the document unchanged"
	default:
		result.Success = true
	}
}

func buildPrompt(errs []schemas.ClassifiedError, document string) string {
	var b strings.Builder
	b.WriteString("Defects:\n")
	for i, e := range errs {
		fmt.Fprintf(&b, "%d. [%s]", i+1, e.Kind)
		if e.TargetSelector != "" {
			fmt.Fprintf(&b, " %s", e.TargetSelector)
		}
		if e.ElementTag != "" {
			fmt.Fprintf(&b, " <%s>", e.ElementTag)
		}
		if e.Message != "" {
			fmt.Fprintf(&b, ": %s", e.Message)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\n")
	b.WriteString(responseContract)
	b.WriteString("\n\nDocument:\n")
	b.WriteString(document)
	return b.String()
}
