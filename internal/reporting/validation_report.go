package reporting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/mender/api/schemas"
)

// DefaultPassThreshold is the success rate a validation must reach to pass.
const DefaultPassThreshold = 0.9

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Summary keys, fixed for consumers of the dict form.
const (
	SummaryResponsive    = "responsive"
	SummaryNavigation    = "navigation"
	SummaryCascadeEffect = "cascade_effect"
	SummaryWeakFeedback  = "weak_feedback"
	SummaryNoResponse    = "no_response"
)

// Viewport is the rendering size a report was produced at.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ElementReport is the serializable verdict for one element.
type ElementReport struct {
	Selector string                `json:"selector"`
	Tag      string                `json:"tag,omitempty"`
	Status   schemas.ElementStatus `json:"status"`
	Diff     schemas.DiffRatios    `json:"diff_ratio_by_scale"`
	Issues   []schemas.ErrorKind   `json:"issues,omitempty"`
}

// ValidationReport is the aggregated, serializable form of a sandbox pass.
type ValidationReport struct {
	HTMLHash          string          `json:"html_hash"`
	Timestamp         time.Time       `json:"timestamp"`
	Passed            bool            `json:"passed"`
	PassThreshold     float64         `json:"pass_threshold"`
	TotalElements     int             `json:"total_elements"`
	ResponsiveCount   int             `json:"responsive_count"`
	NavigationCount   int             `json:"navigation_count"`
	CascadeCount      int             `json:"cascade_count"`
	WeakFeedbackCount int             `json:"weak_feedback_count"`
	NoResponseCount   int             `json:"no_response_count"`
	JSErrors          []string        `json:"js_errors"`
	ConsoleErrors     []string        `json:"console_errors"`
	ViewportSize      Viewport        `json:"viewport_size"`
	ValidationTimeMs  int64           `json:"validation_time_ms"`
	ElementReports    []ElementReport `json:"element_reports"`
}

// SuccessRate is (responsive+navigation+cascade)/total, 1.0 when empty.
func (r *ValidationReport) SuccessRate() float64 {
	if r.TotalElements == 0 {
		return 1.0
	}
	return float64(r.ResponsiveCount+r.NavigationCount+r.CascadeCount) / float64(r.TotalElements)
}

// FailedCount is weak_feedback + no_response.
func (r *ValidationReport) FailedCount() int {
	return r.WeakFeedbackCount + r.NoResponseCount
}

// Summary returns the per-status counts under fixed keys.
func (r *ValidationReport) Summary() map[string]int {
	return map[string]int{
		SummaryResponsive:    r.ResponsiveCount,
		SummaryNavigation:    r.NavigationCount,
		SummaryCascadeEffect: r.CascadeCount,
		SummaryWeakFeedback:  r.WeakFeedbackCount,
		SummaryNoResponse:    r.NoResponseCount,
	}
}

// ToJSON renders the dict form as JSON.
func (r *ValidationReport) ToJSON() ([]byte, error) {
	return json.Marshal(r.ToDict())
}

// ToDict converts the report to a plain key-value map. Derived values
// (success_rate, failed_count, summary) are included for readers and ignored
// by FromDict.
func (r *ValidationReport) ToDict() map[string]interface{} {
	elements := make([]interface{}, len(r.ElementReports))
	for i, er := range r.ElementReports {
		entry := map[string]interface{}{
			"selector": er.Selector,
			"tag":      er.Tag,
			"status":   string(er.Status),
			"diff_ratio_by_scale": map[string]interface{}{
				"tight":  er.Diff.Tight,
				"local":  er.Diff.Local,
				"global": er.Diff.Global,
			},
		}
		if len(er.Issues) > 0 {
			issues := make([]interface{}, len(er.Issues))
			for j, k := range er.Issues {
				issues[j] = string(k)
			}
			entry["issues"] = issues
		}
		elements[i] = entry
	}
	jsErrors := make([]interface{}, len(r.JSErrors))
	for i, e := range r.JSErrors {
		jsErrors[i] = e
	}
	consoleErrors := make([]interface{}, len(r.ConsoleErrors))
	for i, e := range r.ConsoleErrors {
		consoleErrors[i] = e
	}
	summary := map[string]interface{}{}
	for k, v := range r.Summary() {
		summary[k] = v
	}

	return map[string]interface{}{
		"html_hash":           r.HTMLHash,
		"timestamp":           r.Timestamp.UTC().Format(time.RFC3339Nano),
		"passed":              r.Passed,
		"pass_threshold":      r.PassThreshold,
		"total_elements":      r.TotalElements,
		"responsive_count":    r.ResponsiveCount,
		"navigation_count":    r.NavigationCount,
		"cascade_count":       r.CascadeCount,
		"weak_feedback_count": r.WeakFeedbackCount,
		"no_response_count":   r.NoResponseCount,
		"js_errors":           jsErrors,
		"console_errors":      consoleErrors,
		"viewport_size":       map[string]interface{}{"width": r.ViewportSize.Width, "height": r.ViewportSize.Height},
		"validation_time_ms":  r.ValidationTimeMs,
		"element_reports":     elements,
		"success_rate":        r.SuccessRate(),
		"failed_count":        r.FailedCount(),
		"summary":             summary,
	}
}

// FromDict rebuilds a report from its dict form.
func FromDict(d map[string]interface{}) (*ValidationReport, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report dict: %w", err)
	}
	return FromJSON(raw)
}

// FromJSON parses the output of ToJSON.
func FromJSON(data []byte) (*ValidationReport, error) {
	var r ValidationReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode validation report: %w", err)
	}
	if r.JSErrors == nil {
		r.JSErrors = []string{}
	}
	if r.ConsoleErrors == nil {
		r.ConsoleErrors = []string{}
	}
	if r.ElementReports == nil {
		r.ElementReports = []ElementReport{}
	}
	return &r, nil
}

// HashDocument returns the first 16 hex characters of the document's SHA-256.
func HashDocument(document string) string {
	sum := sha256.Sum256([]byte(document))
	return hex.EncodeToString(sum[:])[:16]
}

// ReportGenerator builds ValidationReports.
type ReportGenerator struct {
	now func() time.Time
}

// NewReportGenerator creates a generator using the wall clock.
func NewReportGenerator() *ReportGenerator {
	return &ReportGenerator{now: time.Now}
}

// Generate aggregates a sandbox result. classifications, when given, are
// attached to the element reports whose selector they target. A negative
// threshold selects DefaultPassThreshold.
func (g *ReportGenerator) Generate(res schemas.ValidationResult, document string, classifications []schemas.ClassifiedError, passThreshold float64) *ValidationReport {
	if passThreshold < 0 || passThreshold > 1 {
		passThreshold = DefaultPassThreshold
	}

	issues := map[string][]schemas.ErrorKind{}
	for _, c := range classifications {
		if c.TargetSelector != "" {
			issues[c.TargetSelector] = append(issues[c.TargetSelector], c.Kind)
		}
	}

	r := &ValidationReport{
		HTMLHash:         HashDocument(document),
		Timestamp:        g.now().UTC(),
		PassThreshold:    passThreshold,
		TotalElements:    len(res.ElementResults),
		JSErrors:         append([]string{}, res.JSErrors...),
		ConsoleErrors:    res.RuntimeConsoleErrors(),
		ViewportSize:     Viewport{Width: res.ViewportWidth, Height: res.ViewportHeight},
		ValidationTimeMs: res.ValidationTimeMs,
		ElementReports:   make([]ElementReport, 0, len(res.ElementResults)),
	}

	for _, er := range res.ElementResults {
		switch er.Status {
		case schemas.StatusResponsive:
			r.ResponsiveCount++
		case schemas.StatusNavigation:
			r.NavigationCount++
		case schemas.StatusCascadeEffect:
			r.CascadeCount++
		case schemas.StatusWeakFeedback:
			r.WeakFeedbackCount++
		case schemas.StatusNoResponse:
			r.NoResponseCount++
		}
		r.ElementReports = append(r.ElementReports, ElementReport{
			Selector: er.Selector,
			Tag:      er.Tag,
			Status:   er.Status,
			Diff:     er.Diff,
			Issues:   issues[er.Selector],
		})
	}

	// Any runtime error, thrown or logged, fails the report regardless of the
	// success rate.
	r.Passed = len(r.JSErrors) == 0 && len(r.ConsoleErrors) == 0 && r.SuccessRate() >= passThreshold
	return r
}
