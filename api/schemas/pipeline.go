package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Repair Pipeline Schemas --

// FixPhase tags a step of the repair state machine.
type FixPhase string

const (
	PhaseInitial               FixPhase = "INITIAL"
	PhaseClassify              FixPhase = "CLASSIFY"
	PhaseDeterministic         FixPhase = "DETERMINISTIC"
	PhaseValidateDeterministic FixPhase = "VALIDATE_DETERMINISTIC"
	PhaseLLMFix                FixPhase = "LLM_FIX"
	PhaseValidateLLM           FixPhase = "VALIDATE_LLM"
	PhaseComplete              FixPhase = "COMPLETE"
	PhaseFailed                FixPhase = "FAILED"
)

// LLMFixResult is the outcome of one generative repair attempt.
type LLMFixResult struct {
	Success       bool      `json:"success"`
	FixedDocument string    `json:"fixed_document,omitempty"`
	Patches       *PatchSet `json:"patches,omitempty"`
	CallsMade     int       `json:"calls_made"`
	TokensUsed    int       `json:"tokens_used"`
	Error         string    `json:"error,omitempty"`
}

// HistoryEntry records one visited phase.
type HistoryEntry struct {
	Phase           FixPhase  `json:"phase"`
	Attempt         int       `json:"attempt,omitempty"`
	Score           float64   `json:"score"`
	ErrorsRemaining int       `json:"errors_remaining"`
	Detail          string    `json:"detail,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// FixMetrics accumulates counters for one fix invocation.
type FixMetrics struct {
	ErrorsInitial        int     `json:"errors_initial"`
	PatchesApplied       int     `json:"patches_applied"`
	LLMCallsMade         int     `json:"llm_calls_made"`
	LLMTokensUsed        int     `json:"llm_tokens_used"`
	ClassificationTimeMs float64 `json:"classification_time_ms"`
	TotalDurationMs      float64 `json:"total_duration_ms"`
}

// OrchestratorResult is the value every fix invocation returns, including on
// timeout or collaborator failure.
type OrchestratorResult struct {
	RunID           string            `json:"run_id"`
	Success         bool              `json:"success"`
	FixedHTML       string            `json:"fixed_html"`
	FinalScore      float64           `json:"final_score"`
	ErrorsRemaining int               `json:"errors_remaining"`
	PhasesCompleted []FixPhase        `json:"phases_completed"`
	Metrics         FixMetrics        `json:"metrics"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	History         []HistoryEntry    `json:"history"`
	Remaining       []ClassifiedError `json:"remaining,omitempty"`
}

// Describe renders a one-line human summary of the result.
func (r OrchestratorResult) Describe() string {
	phases := make([]string, len(r.PhasesCompleted))
	for i, p := range r.PhasesCompleted {
		phases[i] = string(p)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "OrchestratorResult(success=%t, score=%.3f, errors_remaining=%d, phases=[%s]",
		r.Success, r.FinalScore, r.ErrorsRemaining, strings.Join(phases, " -> "))
	if r.ErrorMessage != "" {
		fmt.Fprintf(&b, ", error=%q", r.ErrorMessage)
	}
	b.WriteString(")")
	return b.String()
}

// Reached reports whether the given phase was visited.
func (r OrchestratorResult) Reached(phase FixPhase) bool {
	for _, p := range r.PhasesCompleted {
		if p == phase {
			return true
		}
	}
	return false
}
