package schemas

import (
	"fmt"
	"sort"
)

// -- Error Taxonomy --

// ErrorKind identifies one class of defect found in a generated document.
// The set is closed: every consumer switches over it, and a kind that is not
// listed in AllErrorKinds is rejected by Valid.
type ErrorKind string

const (
	KindSyntaxError        ErrorKind = "SYNTAX_ERROR"        // Script block fails to parse.
	KindMissingFunction    ErrorKind = "MISSING_FUNCTION"    // Handler attribute calls an undefined function.
	KindMissingDOMTarget   ErrorKind = "MISSING_DOM_TARGET"  // Script looks up an id that no element carries.
	KindUndefinedReference ErrorKind = "UNDEFINED_REFERENCE" // Runtime "x is not defined".
	KindRuntimeException   ErrorKind = "RUNTIME_EXCEPTION"   // Any other uncaught script error.
	KindZIndexConflict     ErrorKind = "ZINDEX_CONFLICT"     // Element is painted underneath another element.
	KindPointerBlocked     ErrorKind = "POINTER_BLOCKED"     // Element cannot receive pointer events.
	KindMissingFeedback    ErrorKind = "MISSING_FEEDBACK"    // Interactive element gives no affordance.
)

// AllErrorKinds returns every kind in declaration order.
func AllErrorKinds() []ErrorKind {
	return []ErrorKind{
		KindSyntaxError,
		KindMissingFunction,
		KindMissingDOMTarget,
		KindUndefinedReference,
		KindRuntimeException,
		KindZIndexConflict,
		KindPointerBlocked,
		KindMissingFeedback,
	}
}

// kindTraits holds the two fixed facets of an ErrorKind.
type kindTraits struct {
	jsRelated  bool
	generative bool
}

func (k ErrorKind) traits() (kindTraits, bool) {
	switch k {
	case KindSyntaxError, KindMissingFunction, KindMissingDOMTarget, KindUndefinedReference, KindRuntimeException:
		return kindTraits{jsRelated: true, generative: true}, true
	case KindZIndexConflict, KindPointerBlocked, KindMissingFeedback:
		return kindTraits{jsRelated: false, generative: false}, true
	default:
		return kindTraits{}, false
	}
}

// Valid reports whether k belongs to the taxonomy.
func (k ErrorKind) Valid() bool {
	_, ok := k.traits()
	return ok
}

// IsJSRelated reports whether the defect lives in script rather than in layout.
func (k ErrorKind) IsJSRelated() bool {
	t, _ := k.traits()
	return t.jsRelated
}

// RequiresGenerativeRepair reports whether the rule engine is unable to fix
// this kind. Unknown kinds are routed to generative repair.
func (k ErrorKind) RequiresGenerativeRepair() bool {
	t, ok := k.traits()
	if !ok {
		return true
	}
	return t.generative
}

func (k ErrorKind) String() string { return string(k) }

// -- Classified Errors --

// ClassifiedError is a normalized description of a single defect. Values are
// treated as immutable; use the With* methods to derive a modified copy.
type ClassifiedError struct {
	Kind                     ErrorKind         `json:"kind"`
	TargetSelector           string            `json:"target_selector"`
	ElementTag               string            `json:"element_tag,omitempty"`
	Confidence               float64           `json:"confidence"`
	RequiresGenerativeRepair bool              `json:"requires_generative_repair"`
	Message                  string            `json:"message,omitempty"`
	Metadata                 map[string]string `json:"metadata,omitempty"`
}

// NewClassifiedError builds an error whose generative flag follows the kind's
// capability table. Confidence is clamped to [0, 1] and metadata is copied.
func NewClassifiedError(kind ErrorKind, selector, tag string, confidence float64, message string, metadata map[string]string) ClassifiedError {
	return ClassifiedError{
		Kind:                     kind,
		TargetSelector:           selector,
		ElementTag:               tag,
		Confidence:               clamp01(confidence),
		RequiresGenerativeRepair: kind.RequiresGenerativeRepair(),
		Message:                  message,
		Metadata:                 copyMetadata(metadata),
	}
}

// WithGenerativeOverride returns a copy with the capability flag forced.
func (e ClassifiedError) WithGenerativeOverride(requires bool) ClassifiedError {
	out := e
	out.Metadata = copyMetadata(e.Metadata)
	out.RequiresGenerativeRepair = requires
	return out
}

// Meta returns a metadata value or the empty string.
func (e ClassifiedError) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

func (e ClassifiedError) String() string {
	if e.TargetSelector == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.TargetSelector, e.Message)
}

// ErrorReport is the classifier's output for one document.
type ErrorReport struct {
	Errors           []ClassifiedError `json:"errors"`
	Summary          map[ErrorKind]int `json:"summary"`
	TotalInteractive int               `json:"total_interactive"`
}

// NewErrorReport computes the per-kind summary for errs.
func NewErrorReport(errs []ClassifiedError, totalInteractive int) ErrorReport {
	summary := make(map[ErrorKind]int, len(errs))
	for _, e := range errs {
		summary[e.Kind]++
	}
	if errs == nil {
		errs = []ClassifiedError{}
	}
	return ErrorReport{Errors: errs, Summary: summary, TotalInteractive: totalInteractive}
}

// Len returns the number of classified errors.
func (r ErrorReport) Len() int { return len(r.Errors) }

// RuleFixable returns the errors the deterministic rule engine can handle.
func (r ErrorReport) RuleFixable() []ClassifiedError {
	return r.filter(false)
}

// GenerativeRequired returns the errors that need the generative fallback.
func (r ErrorReport) GenerativeRequired() []ClassifiedError {
	return r.filter(true)
}

func (r ErrorReport) filter(generative bool) []ClassifiedError {
	var out []ClassifiedError
	for _, e := range r.Errors {
		if e.RequiresGenerativeRepair == generative {
			out = append(out, e)
		}
	}
	return out
}

// Kinds returns the distinct kinds present, sorted.
func (r ErrorReport) Kinds() []ErrorKind {
	kinds := make([]ErrorKind, 0, len(r.Summary))
	for k := range r.Summary {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
