package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mender/api/schemas"
)

// TestErrorKindCapabilities pins the capability table for every kind.
func TestErrorKindCapabilities(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		kind       schemas.ErrorKind
		jsRelated  bool
		generative bool
	}{
		{schemas.KindSyntaxError, true, true},
		{schemas.KindMissingFunction, true, true},
		{schemas.KindMissingDOMTarget, true, true},
		{schemas.KindUndefinedReference, true, true},
		{schemas.KindRuntimeException, true, true},
		{schemas.KindZIndexConflict, false, false},
		{schemas.KindPointerBlocked, false, false},
		{schemas.KindMissingFeedback, false, false},
	}
	require.Len(t, testCases, len(schemas.AllErrorKinds()), "every kind needs a capability row")

	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.True(t, tc.kind.Valid())
			assert.Equal(t, tc.jsRelated, tc.kind.IsJSRelated())
			assert.Equal(t, tc.generative, tc.kind.RequiresGenerativeRepair())
		})
	}
}

func TestErrorKind_Unknown(t *testing.T) {
	t.Parallel()
	k := schemas.ErrorKind("SOMETHING_ELSE")
	assert.False(t, k.Valid())
	assert.False(t, k.IsJSRelated())
	assert.True(t, k.RequiresGenerativeRepair(), "unknown kinds go to generative repair")
}

func TestNewClassifiedError(t *testing.T) {
	t.Parallel()
	meta := map[string]string{"function": "go"}
	e := schemas.NewClassifiedError(schemas.KindMissingFunction, "#btn", "button", 1.7, "go is not defined", meta)

	assert.Equal(t, 1.0, e.Confidence, "confidence is clamped")
	assert.True(t, e.RequiresGenerativeRepair)
	assert.Equal(t, "go", e.Meta("function"))

	meta["function"] = "changed"
	assert.Equal(t, "go", e.Meta("function"), "metadata must be copied on construction")

	overridden := e.WithGenerativeOverride(false)
	assert.False(t, overridden.RequiresGenerativeRepair)
	assert.True(t, e.RequiresGenerativeRepair, "original stays untouched")
	assert.Contains(t, e.String(), "#btn")
}

func TestErrorReport_Split(t *testing.T) {
	t.Parallel()
	errs := []schemas.ClassifiedError{
		schemas.NewClassifiedError(schemas.KindMissingFunction, "#a", "button", 0.9, "", nil),
		schemas.NewClassifiedError(schemas.KindZIndexConflict, "#b", "button", 0.8, "", nil),
		schemas.NewClassifiedError(schemas.KindZIndexConflict, "#c", "a", 0.8, "", nil),
		schemas.NewClassifiedError(schemas.KindPointerBlocked, "#d", "div", 0.8, "", nil).WithGenerativeOverride(true),
	}
	report := schemas.NewErrorReport(errs, 7)

	assert.Equal(t, 4, report.Len())
	assert.Equal(t, 7, report.TotalInteractive)
	assert.Equal(t, 2, report.Summary[schemas.KindZIndexConflict])
	assert.Len(t, report.RuleFixable(), 2)
	assert.Len(t, report.GenerativeRequired(), 2)
	assert.Equal(t, []schemas.ErrorKind{schemas.KindMissingFunction, schemas.KindPointerBlocked, schemas.KindZIndexConflict}, report.Kinds())
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1.0, schemas.SuccessRate(nil), "empty result is a vacuous pass")

	results := []schemas.ElementResult{
		{Status: schemas.StatusResponsive},
		{Status: schemas.StatusNavigation},
		{Status: schemas.StatusCascadeEffect},
		{Status: schemas.StatusWeakFeedback},
		{Status: schemas.StatusNoResponse},
	}
	assert.InDelta(t, 0.6, schemas.SuccessRate(results), 1e-9)
}

func TestOrchestratorResult_Describe(t *testing.T) {
	t.Parallel()
	r := schemas.OrchestratorResult{
		Success:         true,
		FinalScore:      0.875,
		PhasesCompleted: []schemas.FixPhase{schemas.PhaseInitial, schemas.PhaseClassify, schemas.PhaseComplete},
	}
	out := r.Describe()
	assert.Contains(t, out, "OrchestratorResult")
	assert.Contains(t, out, "0.875")
	assert.Contains(t, out, "CLASSIFY")
	assert.True(t, r.Reached(schemas.PhaseComplete))
	assert.False(t, r.Reached(schemas.PhaseFailed))
}

func TestValidationResult_RuntimeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		res     schemas.ValidationResult
		console []string
		want    bool
	}{
		{name: "clean", res: schemas.ValidationResult{}, console: []string{}, want: false},
		{
			name:    "thrown",
			res:     schemas.ValidationResult{JSErrors: []string{"TypeError: boom"}},
			console: []string{},
			want:    true,
		},
		{
			name:    "application logging only",
			res:     schemas.ValidationResult{ConsoleErrors: []string{"analytics disabled", "retrying fetch"}},
			console: []string{},
			want:    false,
		},
		{
			name: "uncaught error logged to the console",
			res: schemas.ValidationResult{ConsoleErrors: []string{
				"analytics disabled",
				"Uncaught TypeError: Cannot read properties of null",
				"ReferenceError: cfg is not defined",
			}},
			console: []string{"Uncaught TypeError: Cannot read properties of null", "ReferenceError: cfg is not defined"},
			want:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.console, tt.res.RuntimeConsoleErrors())
			assert.Equal(t, tt.want, tt.res.HasRuntimeErrors())
		})
	}
}
