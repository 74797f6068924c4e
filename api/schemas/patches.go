package schemas

// -- Patch Schemas --

// PatchSource tags where a PatchSet came from.
type PatchSource string

const (
	SourceDeterministic PatchSource = "deterministic" // Produced by the rule engine.
	SourceGenerative    PatchSource = "generative"    // Produced by the generative fallback.
)

// Property is a single CSS declaration.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Patch is a declarative set of property changes scoped to one selector.
type Patch struct {
	TargetSelector     string     `json:"target_selector"`
	PropertiesToSet    []Property `json:"properties_to_set,omitempty"`
	PropertiesToRemove []string   `json:"properties_to_remove,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.PropertiesToSet) == 0 && len(p.PropertiesToRemove) == 0
}

// PatchSet is an ordered list of patches. When two patches target the same
// property of the same selector, the later one wins.
type PatchSet struct {
	Source  PatchSource `json:"source"`
	Patches []Patch     `json:"patches"`
}

// Len returns the number of patches in the set.
func (s PatchSet) Len() int { return len(s.Patches) }

// InjectionResult is the outcome of applying one PatchSet to one document
// snapshot. The input document is never modified.
type InjectionResult struct {
	Success  bool    `json:"success"`
	Document string  `json:"document"`
	Applied  []Patch `json:"applied"`
	Failed   []Patch `json:"failed"`
}
