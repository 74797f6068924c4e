package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mender/api/schemas"
)

func conflict(kind schemas.ErrorKind, selector string, meta map[string]string) schemas.ClassifiedError {
	return schemas.NewClassifiedError(kind, selector, "button", 0.75, "", meta)
}

func TestApplyRules_ZIndex(t *testing.T) {
	testCases := []struct {
		name string
		meta map[string]string
		want []schemas.Property
	}{
		{
			name: "static element above tall occluder",
			meta: map[string]string{"occluder_z_index": "50", "position": "static"},
			want: []schemas.Property{{Name: "position", Value: "relative"}, {Name: "z-index", Value: "51"}},
		},
		{
			name: "positioned element keeps its position",
			meta: map[string]string{"occluder_z_index": "2", "position": "absolute"},
			want: []schemas.Property{{Name: "z-index", Value: "10"}},
		},
		{
			name: "unknown occluder",
			meta: nil,
			want: []schemas.Property{{Name: "position", Value: "relative"}, {Name: "z-index", Value: "10"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := New().ApplyRules([]schemas.ClassifiedError{conflict(schemas.KindZIndexConflict, "#buy", tc.meta)})
			require.Len(t, set.Patches, 1)
			assert.Equal(t, "#buy", set.Patches[0].TargetSelector)
			if diff := cmp.Diff(tc.want, set.Patches[0].PropertiesToSet); diff != "" {
				t.Errorf("properties mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyRules_PointerBlocked(t *testing.T) {
	set := New().ApplyRules([]schemas.ClassifiedError{
		conflict(schemas.KindPointerBlocked, "#buy", map[string]string{"occluder_selector": ".overlay"}),
	})

	want := []schemas.Patch{
		{TargetSelector: ".overlay", PropertiesToSet: []schemas.Property{{Name: "pointer-events", Value: "none"}}},
		{TargetSelector: "#buy", PropertiesToSet: []schemas.Property{{Name: "pointer-events", Value: "auto"}}},
	}
	if diff := cmp.Diff(want, set.Patches); diff != "" {
		t.Errorf("patches mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyRules_MissingFeedback(t *testing.T) {
	set := New().ApplyRules([]schemas.ClassifiedError{conflict(schemas.KindMissingFeedback, ".card", nil)})

	require.Len(t, set.Patches, 2)
	assert.Equal(t, ".card", set.Patches[0].TargetSelector)
	assert.Equal(t, ".card:active", set.Patches[1].TargetSelector)
	assert.Equal(t, schemas.Property{Name: "cursor", Value: "pointer"}, set.Patches[0].PropertiesToSet[0])
}

func TestApplyRules_SkipsGenerativeAndDuplicates(t *testing.T) {
	errs := []schemas.ClassifiedError{
		schemas.NewClassifiedError(schemas.KindMissingFunction, "#a", "button", 0.9, "", nil),
		conflict(schemas.KindZIndexConflict, "#b", nil),
		conflict(schemas.KindZIndexConflict, "#b", nil),
		conflict(schemas.KindZIndexConflict, "", nil),
		conflict(schemas.KindPointerBlocked, "#c", nil).WithGenerativeOverride(true),
	}

	set := New().ApplyRules(errs)

	assert.Equal(t, schemas.SourceDeterministic, set.Source)
	require.Len(t, set.Patches, 1)
	assert.Equal(t, "#b", set.Patches[0].TargetSelector)
}

func TestApplyRules_IsDeterministic(t *testing.T) {
	errs := []schemas.ClassifiedError{
		conflict(schemas.KindMissingFeedback, "#x", nil),
		conflict(schemas.KindPointerBlocked, "#y", map[string]string{"occluder_selector": "#veil"}),
		conflict(schemas.KindZIndexConflict, "#z", map[string]string{"occluder_z_index": "99"}),
	}
	first := New().ApplyRules(errs)
	second := New().ApplyRules(errs)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestApplyRules_Empty(t *testing.T) {
	set := New().ApplyRules(nil)
	assert.Equal(t, 0, set.Len())
	assert.NotNil(t, set.Patches)
}
