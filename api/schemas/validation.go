package schemas

import "regexp"

// -- Sandbox Validation Schemas --

// ElementStatus is the classified response of one interactive element.
type ElementStatus string

const (
	StatusResponsive    ElementStatus = "RESPONSIVE"     // Localized change around the element.
	StatusNavigation    ElementStatus = "NAVIGATION"     // Near-full viewport replacement.
	StatusCascadeEffect ElementStatus = "CASCADE_EFFECT" // Change manifests away from the trigger.
	StatusWeakFeedback  ElementStatus = "WEAK_FEEDBACK"  // Small but nonzero change.
	StatusNoResponse    ElementStatus = "NO_RESPONSE"    // Nothing visibly changed.
)

// AllElementStatuses returns every status in declaration order.
func AllElementStatuses() []ElementStatus {
	return []ElementStatus{StatusResponsive, StatusNavigation, StatusCascadeEffect, StatusWeakFeedback, StatusNoResponse}
}

// Succeeded reports whether the status counts toward the success rate.
func (s ElementStatus) Succeeded() bool {
	switch s {
	case StatusResponsive, StatusNavigation, StatusCascadeEffect:
		return true
	default:
		return false
	}
}

// DiffRatios holds the fraction of changed pixels at each comparison scale.
type DiffRatios struct {
	Tight  float64 `json:"tight"`
	Local  float64 `json:"local"`
	Global float64 `json:"global"`
}

// ElementResult is the sandbox verdict for one element.
type ElementResult struct {
	Selector string        `json:"selector"`
	Tag      string        `json:"tag,omitempty"`
	Status   ElementStatus `json:"status"`
	Diff     DiffRatios    `json:"diff_ratio_by_scale"`
	Error    string        `json:"error,omitempty"`
}

// VisualConflict is a layout defect observed in a live rendering.
type VisualConflict struct {
	Kind             ErrorKind         `json:"kind"`
	Selector         string            `json:"selector"`
	Tag              string            `json:"tag,omitempty"`
	OccluderSelector string            `json:"occluder_selector,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// PageObservations is what a live rendering reveals beyond static analysis.
type PageObservations struct {
	ConsoleErrors    []string         `json:"console_errors"`
	JSErrors         []string         `json:"js_errors"`
	Conflicts        []VisualConflict `json:"conflicts"`
	TotalInteractive int              `json:"total_interactive"`
}

// ValidationResult is the raw output of one sandbox pass.
type ValidationResult struct {
	ElementResults   []ElementResult  `json:"element_results"`
	JSErrors         []string         `json:"js_errors"`
	ConsoleErrors    []string         `json:"console_errors"`
	Passed           bool             `json:"passed"`
	ValidationTimeMs int64            `json:"validation_time_ms"`
	ViewportWidth    int              `json:"viewport_width"`
	ViewportHeight   int              `json:"viewport_height"`
	Conflicts        []VisualConflict `json:"conflicts,omitempty"`

	// Screenshot is the first baseline render (PNG), handed to the
	// generative fallback as visual context.
	Screenshot []byte `json:"-"`
}

// runtimeConsolePattern matches console lines produced by uncaught script
// errors. Anything else logged at error level is application output.
var runtimeConsolePattern = regexp.MustCompile(`(?i)\b(uncaught|typeerror|referenceerror|rangeerror|syntaxerror)\b|\bis not defined\b`)

// IsRuntimeConsoleError reports whether a console error line comes from an
// uncaught script error.
func IsRuntimeConsoleError(msg string) bool {
	return runtimeConsolePattern.MatchString(msg)
}

// RuntimeConsoleErrors returns the console errors that count against a pass.
func (r ValidationResult) RuntimeConsoleErrors() []string {
	out := []string{}
	for _, msg := range r.ConsoleErrors {
		if IsRuntimeConsoleError(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// HasRuntimeErrors reports whether the pass captured a runtime error, thrown
// or logged.
func (r ValidationResult) HasRuntimeErrors() bool {
	return len(r.JSErrors) > 0 || len(r.RuntimeConsoleErrors()) > 0
}

// SuccessRate returns (responsive+navigation+cascade)/total, or 1.0 for an
// empty result.
func (r ValidationResult) SuccessRate() float64 {
	return SuccessRate(r.ElementResults)
}

// SuccessRate computes the success rate of a set of element results.
func SuccessRate(results []ElementResult) float64 {
	if len(results) == 0 {
		return 1.0
	}
	ok := 0
	for _, er := range results {
		if er.Status.Succeeded() {
			ok++
		}
	}
	return float64(ok) / float64(len(results))
}
