// Package classifier normalizes static analysis and live page observations
// into the closed error taxonomy.
package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/analysis/static"
)

// Confidence assigned per finding source.
const (
	confidenceMissingFunction = 0.95
	confidenceMissingDOM      = 0.90
	confidenceSyntax          = 0.85
	confidenceUndefined       = 0.80
	confidenceConflict        = 0.75
	confidenceRuntime         = 0.60
)

var (
	notDefinedPattern  = regexp.MustCompile(`(?:ReferenceError:\s*)?([A-Za-z_$][\w$]*) is not defined`)
	syntaxErrorPattern = regexp.MustCompile(`\bSyntaxError\b`)
	// Lookups that returned null: the symptom of a missing DOM target.
	nullDerefPattern = regexp.MustCompile(`(?i)(properties of null|property '[^']*' of null|\bis null\b|null is not an object)`)
)

// Analyzer is the static analysis dependency.
type Analyzer interface {
	Analyze(ctx context.Context, document string) (*static.Result, error)
}

// Classifier implements schemas.Classifier.
type Classifier struct {
	logger   *zap.Logger
	analyzer Analyzer
	probe    schemas.PageProbe
}

var _ schemas.Classifier = (*Classifier)(nil)

// New creates a classifier. probe may be nil, in which case Classify without
// observations is equivalent to ClassifyStatic.
func New(logger *zap.Logger, analyzer Analyzer, probe schemas.PageProbe) (*Classifier, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("classifier requires a static analyzer")
	}
	return &Classifier{
		logger:   logger.Named("classifier"),
		analyzer: analyzer,
		probe:    probe,
	}, nil
}

// ClassifyStatic classifies analyzer findings only.
func (c *Classifier) ClassifyStatic(ctx context.Context, document string) (schemas.ErrorReport, error) {
	res, err := c.analyzer.Analyze(ctx, document)
	if err != nil {
		return schemas.ErrorReport{}, fmt.Errorf("static analysis failed: %w", err)
	}
	return schemas.NewErrorReport(fromStatic(res), res.InteractiveCount), nil
}

// Classify merges analyzer findings with observations from a live rendering.
// When obs is nil and a probe is configured, the probe supplies them; a
// failing probe degrades to static classification.
func (c *Classifier) Classify(ctx context.Context, document string, obs *schemas.PageObservations) (schemas.ErrorReport, error) {
	res, err := c.analyzer.Analyze(ctx, document)
	if err != nil {
		return schemas.ErrorReport{}, fmt.Errorf("static analysis failed: %w", err)
	}

	if obs == nil && c.probe != nil {
		probed, err := c.probe.Probe(ctx, document)
		switch {
		case ctx.Err() != nil:
			return schemas.ErrorReport{}, ctx.Err()
		case err != nil:
			c.logger.Warn("Live probe failed; classifying statically", zap.Error(err))
		default:
			obs = &probed
		}
	}

	errs := fromStatic(res)
	total := res.InteractiveCount
	if obs != nil {
		errs = append(errs, fromObservations(res, obs, c.logger)...)
		if obs.TotalInteractive > 0 {
			total = obs.TotalInteractive
		}
	}

	report := schemas.NewErrorReport(errs, total)
	c.logger.Debug("Classification complete",
		zap.Int("errors", report.Len()),
		zap.Int("generative", len(report.GenerativeRequired())),
		zap.Int("rule_fixable", len(report.RuleFixable())),
	)
	return report, nil
}

func fromStatic(res *static.Result) []schemas.ClassifiedError {
	var errs []schemas.ClassifiedError

	for _, name := range res.MissingFunctions.Sorted() {
		refs := res.HandlersFor(name)
		selector, tag, attr := "", "", ""
		if len(refs) > 0 {
			selector, tag, attr = refs[0].ElementSelector, refs[0].ElementTag, refs[0].Attribute
		}
		errs = append(errs, schemas.NewClassifiedError(
			schemas.KindMissingFunction, selector, tag, confidenceMissingFunction,
			fmt.Sprintf("%s() is called from an inline handler but never defined", name),
			map[string]string{"function": name, "attribute": attr, "call_sites": strconv.Itoa(len(refs))},
		))
	}

	for _, m := range res.MissingDOMElements {
		errs = append(errs, schemas.NewClassifiedError(
			schemas.KindMissingDOMTarget, m.Selector, "", confidenceMissingDOM,
			fmt.Sprintf("%s('%s') matches no element", m.Method, m.Argument),
			map[string]string{"method": m.Method, "argument": m.Argument},
		))
	}

	for _, s := range res.SyntaxErrorScripts() {
		errs = append(errs, schemas.NewClassifiedError(
			schemas.KindSyntaxError, "script", "script", confidenceSyntax,
			fmt.Sprintf("inline script #%d does not parse", s.Index),
			map[string]string{"script_index": strconv.Itoa(s.Index)},
		))
	}
	return errs
}

func fromObservations(res *static.Result, obs *schemas.PageObservations, logger *zap.Logger) []schemas.ClassifiedError {
	var errs []schemas.ClassifiedError
	seen := map[string]bool{}
	hasStaticSyntax := len(res.SyntaxErrorScripts()) > 0
	hasMissingDOM := len(res.MissingDOMElements) > 0

	classifyMessage := func(msg string, fromConsole bool) {
		msg = strings.TrimSpace(msg)
		if msg == "" || seen[msg] {
			return
		}
		seen[msg] = true

		if m := notDefinedPattern.FindStringSubmatch(msg); m != nil {
			// Already reported with a precise selector.
			if res.MissingFunctions.Has(m[1]) {
				return
			}
			errs = append(errs, schemas.NewClassifiedError(
				schemas.KindUndefinedReference, "", "", confidenceUndefined, msg,
				map[string]string{"identifier": m[1]},
			))
			return
		}
		if syntaxErrorPattern.MatchString(msg) {
			if !hasStaticSyntax {
				errs = append(errs, schemas.NewClassifiedError(schemas.KindSyntaxError, "script", "script", confidenceSyntax, msg, nil))
			}
			return
		}
		// Console output that is not an uncaught error is application logging.
		if fromConsole && !schemas.IsRuntimeConsoleError(msg) {
			return
		}
		// Already reported as a missing DOM target.
		if hasMissingDOM && nullDerefPattern.MatchString(msg) {
			logger.Debug("Runtime error attributed to a missing DOM target", zap.String("message", msg))
			return
		}
		errs = append(errs, schemas.NewClassifiedError(schemas.KindRuntimeException, "", "", confidenceRuntime, msg, nil))
	}

	for _, msg := range obs.JSErrors {
		classifyMessage(msg, false)
	}
	for _, msg := range obs.ConsoleErrors {
		classifyMessage(msg, true)
	}

	for _, conflict := range obs.Conflicts {
		if !conflict.Kind.Valid() || conflict.Kind.IsJSRelated() {
			logger.Warn("Ignoring visual conflict with unexpected kind", zap.String("kind", string(conflict.Kind)))
			continue
		}
		meta := map[string]string{}
		for k, v := range conflict.Metadata {
			meta[k] = v
		}
		if conflict.OccluderSelector != "" {
			meta["occluder_selector"] = conflict.OccluderSelector
		}
		errs = append(errs, schemas.NewClassifiedError(
			conflict.Kind, conflict.Selector, conflict.Tag, confidenceConflict,
			describeConflict(conflict), meta,
		))
	}
	return errs
}

func describeConflict(c schemas.VisualConflict) string {
	switch c.Kind {
	case schemas.KindZIndexConflict:
		return fmt.Sprintf("%s is painted underneath %s", c.Selector, c.OccluderSelector)
	case schemas.KindPointerBlocked:
		if c.OccluderSelector != "" {
			return fmt.Sprintf("pointer events on %s are intercepted by %s", c.Selector, c.OccluderSelector)
		}
		return fmt.Sprintf("%s does not receive pointer events", c.Selector)
	case schemas.KindMissingFeedback:
		return fmt.Sprintf("%s is interactive but shows no affordance", c.Selector)
	default:
		return string(c.Kind)
	}
}
