// Package rules maps layout defects to CSS patches without any external calls.
package rules

import (
	"strconv"

	"github.com/xkilldash9x/mender/api/schemas"
)

const (
	// minRaisedZIndex is the lowest stacking order a raised element receives.
	minRaisedZIndex = 10

	feedbackTransition = "transform 0.1s ease, filter 0.1s ease"
)

// Engine implements schemas.RuleEngine. It holds no state.
type Engine struct{}

var _ schemas.RuleEngine = Engine{}

// New returns a rule engine.
func New() Engine { return Engine{} }

type ruleKey struct {
	kind     schemas.ErrorKind
	selector string
}

// ApplyRules builds a deterministic patch set for every rule-fixable error.
// Errors that need generative repair or lack a target are skipped, and
// repeated (kind, selector) pairs produce one set of patches.
func (Engine) ApplyRules(errs []schemas.ClassifiedError) schemas.PatchSet {
	set := schemas.PatchSet{Source: schemas.SourceDeterministic, Patches: []schemas.Patch{}}
	seen := map[ruleKey]bool{}

	for _, e := range errs {
		if e.RequiresGenerativeRepair || e.TargetSelector == "" {
			continue
		}
		key := ruleKey{e.Kind, e.TargetSelector}
		if seen[key] {
			continue
		}
		seen[key] = true
		set.Patches = append(set.Patches, patchesFor(e)...)
	}
	return set
}

func patchesFor(e schemas.ClassifiedError) []schemas.Patch {
	switch e.Kind {
	case schemas.KindZIndexConflict:
		return []schemas.Patch{raiseStackingOrder(e)}

	case schemas.KindPointerBlocked:
		var out []schemas.Patch
		if occluder := e.Meta("occluder_selector"); occluder != "" && occluder != e.TargetSelector {
			out = append(out, schemas.Patch{
				TargetSelector:  occluder,
				PropertiesToSet: []schemas.Property{{Name: "pointer-events", Value: "none"}},
			})
		}
		return append(out, schemas.Patch{
			TargetSelector:  e.TargetSelector,
			PropertiesToSet: []schemas.Property{{Name: "pointer-events", Value: "auto"}},
		})

	case schemas.KindMissingFeedback:
		return []schemas.Patch{
			{
				TargetSelector: e.TargetSelector,
				PropertiesToSet: []schemas.Property{
					{Name: "cursor", Value: "pointer"},
					{Name: "transition", Value: feedbackTransition},
				},
			},
			{
				TargetSelector: e.TargetSelector + ":active",
				PropertiesToSet: []schemas.Property{
					{Name: "transform", Value: "scale(0.97)"},
					{Name: "filter", Value: "brightness(0.92)"},
				},
			},
		}

	case schemas.KindSyntaxError, schemas.KindMissingFunction, schemas.KindMissingDOMTarget,
		schemas.KindUndefinedReference, schemas.KindRuntimeException:
		// Reached only through a per-instance override; nothing structural applies.
		return nil

	default:
		return nil
	}
}

func raiseStackingOrder(e schemas.ClassifiedError) schemas.Patch {
	z := minRaisedZIndex
	if occ, err := strconv.Atoi(e.Meta("occluder_z_index")); err == nil && occ+1 > z {
		z = occ + 1
	}
	var props []schemas.Property
	// z-index has no effect on statically positioned boxes.
	if pos := e.Meta("position"); pos == "" || pos == "static" {
		props = append(props, schemas.Property{Name: "position", Value: "relative"})
	}
	props = append(props, schemas.Property{Name: "z-index", Value: strconv.Itoa(z)})
	return schemas.Patch{TargetSelector: e.TargetSelector, PropertiesToSet: props}
}
