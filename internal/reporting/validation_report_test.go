package reporting

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mender/api/schemas"
)

func fixedGenerator() *ReportGenerator {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &ReportGenerator{now: func() time.Time { return ts }}
}

func results(statuses ...schemas.ElementStatus) schemas.ValidationResult {
	var res schemas.ValidationResult
	for i, s := range statuses {
		res.ElementResults = append(res.ElementResults, schemas.ElementResult{
			Selector: "#e" + string(rune('a'+i)),
			Tag:      "button",
			Status:   s,
			Diff:     schemas.DiffRatios{Tight: 0.1, Local: 0.02, Global: 0.001},
		})
	}
	res.ViewportWidth, res.ViewportHeight = 1280, 800
	res.ValidationTimeMs = 420
	return res
}

func TestGenerate_Counts(t *testing.T) {
	res := results(
		schemas.StatusResponsive, schemas.StatusResponsive, schemas.StatusNavigation,
		schemas.StatusCascadeEffect, schemas.StatusWeakFeedback, schemas.StatusNoResponse,
	)

	r := fixedGenerator().Generate(res, "<html></html>", nil, DefaultPassThreshold)

	assert.Equal(t, 6, r.TotalElements)
	assert.Equal(t, r.TotalElements, r.ResponsiveCount+r.NavigationCount+r.CascadeCount+r.WeakFeedbackCount+r.NoResponseCount)
	assert.Equal(t, 2, r.FailedCount())
	assert.InDelta(t, 4.0/6.0, r.SuccessRate(), 1e-9)
	assert.False(t, r.Passed)
	assert.Equal(t, Viewport{Width: 1280, Height: 800}, r.ViewportSize)
	assert.Equal(t, map[string]int{
		"responsive": 2, "navigation": 1, "cascade_effect": 1, "weak_feedback": 1, "no_response": 1,
	}, r.Summary())
}

func TestGenerate_PassRules(t *testing.T) {
	testCases := []struct {
		name      string
		res       schemas.ValidationResult
		threshold float64
		want      bool
	}{
		{"empty page passes", schemas.ValidationResult{}, 0.9, true},
		{"all responsive", results(schemas.StatusResponsive, schemas.StatusNavigation), 0.9, true},
		{"below threshold", results(schemas.StatusResponsive, schemas.StatusNoResponse), 0.9, false},
		{"lower threshold", results(schemas.StatusResponsive, schemas.StatusNoResponse), 0.5, true},
		{"js error fails regardless", func() schemas.ValidationResult {
			r := results(schemas.StatusResponsive)
			r.JSErrors = []string{"ReferenceError: x is not defined"}
			return r
		}(), 0.9, false},
		{"uncaught console error fails regardless", func() schemas.ValidationResult {
			r := results(schemas.StatusResponsive)
			r.ConsoleErrors = []string{"Uncaught TypeError: Cannot read properties of null"}
			return r
		}(), 0.9, false},
		{"application console logging is ignored", func() schemas.ValidationResult {
			r := results(schemas.StatusResponsive)
			r.ConsoleErrors = []string{"analytics disabled"}
			return r
		}(), 0.9, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := fixedGenerator().Generate(tc.res, "doc", nil, tc.threshold)
			assert.Equal(t, tc.want, r.Passed)
		})
	}
}

func TestGenerate_EmptyReport(t *testing.T) {
	r := fixedGenerator().Generate(schemas.ValidationResult{}, "", nil, -1)
	assert.Equal(t, 1.0, r.SuccessRate())
	assert.Equal(t, DefaultPassThreshold, r.PassThreshold)
	assert.NotNil(t, r.JSErrors)
	assert.NotNil(t, r.ConsoleErrors)
	assert.NotNil(t, r.ElementReports)
}

func TestGenerate_KeepsOnlyRuntimeConsoleErrors(t *testing.T) {
	res := results(schemas.StatusResponsive)
	res.ConsoleErrors = []string{"analytics disabled", "Uncaught TypeError: Cannot read properties of null"}

	r := fixedGenerator().Generate(res, "doc", nil, 0.9)

	assert.Equal(t, []string{"Uncaught TypeError: Cannot read properties of null"}, r.ConsoleErrors)
	assert.Empty(t, r.JSErrors)
	assert.Equal(t, 1.0, r.SuccessRate())
	assert.False(t, r.Passed)
}

func TestGenerate_AttachesClassifications(t *testing.T) {
	res := results(schemas.StatusNoResponse, schemas.StatusResponsive)
	classes := []schemas.ClassifiedError{
		schemas.NewClassifiedError(schemas.KindPointerBlocked, "#ea", "button", 0.75, "", nil),
		schemas.NewClassifiedError(schemas.KindSyntaxError, "", "", 0.9, "", nil),
	}

	r := fixedGenerator().Generate(res, "doc", classes, 0.9)

	assert.Equal(t, []schemas.ErrorKind{schemas.KindPointerBlocked}, r.ElementReports[0].Issues)
	assert.Empty(t, r.ElementReports[1].Issues)
}

func TestHashDocument(t *testing.T) {
	h := HashDocument("<html></html>")
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashDocument("<html></html>"))
	assert.NotEqual(t, h, HashDocument("<html> </html>"))
}

func TestDictRoundTrip(t *testing.T) {
	res := results(schemas.StatusResponsive, schemas.StatusWeakFeedback)
	res.JSErrors = []string{"TypeError: boom"}
	res.ConsoleErrors = []string{"Uncaught RangeError: too deep"}
	classes := []schemas.ClassifiedError{
		schemas.NewClassifiedError(schemas.KindMissingFeedback, "#eb", "button", 0.6, "", nil),
	}
	original := fixedGenerator().Generate(res, "<p>x</p>", classes, 0.8)

	d := original.ToDict()
	assert.Equal(t, 0.5, d["success_rate"])
	assert.Equal(t, 1, d["failed_count"])

	restored, err := FromDict(d)
	require.NoError(t, err)
	if diff := cmp.Diff(original, restored); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	raw, err := original.ToJSON()
	require.NoError(t, err)
	fromJSON, err := FromJSON(raw)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(original, fromJSON))
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("{not json"))
	assert.Error(t, err)
}
