// Package sandbox renders documents in headless Chrome, exercises their
// interactive elements and judges each one by diffing before and after renders.
package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
)

// Validator implements schemas.SandboxValidator and schemas.PageProbe.
type Validator struct {
	cfg            config.SandboxConfig
	viewportWidth  int
	viewportHeight int
	logger         *zap.Logger
	metrics        *observability.Metrics
	open           func(ctx context.Context) (pageSession, error)
}

var (
	_ schemas.SandboxValidator = (*Validator)(nil)
	_ schemas.PageProbe        = (*Validator)(nil)
)

// Option configures a Validator.
type Option func(*Validator)

// WithMetrics records every validation pass.
func WithMetrics(m *observability.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a validator that opens a tab in browser for each call.
func NewValidator(browser *Browser, cfg config.SandboxConfig, logger *zap.Logger, opts ...Option) *Validator {
	v := &Validator{
		cfg:            cfg,
		viewportWidth:  browser.cfg.ViewportWidth,
		viewportHeight: browser.cfg.ViewportHeight,
		logger:         logger.Named("sandbox"),
		open:           browser.open,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate loads document, exercises each interactive element and classifies
// its response. An error is returned only when the page could not be rendered
// at all or ctx ended; per-element failures are reported in the result.
func (v *Validator) Validate(ctx context.Context, document string) (schemas.ValidationResult, error) {
	start := time.Now()
	result := schemas.ValidationResult{
		ElementResults: []schemas.ElementResult{},
		JSErrors:       []string{},
		ConsoleErrors:  []string{},
		ViewportWidth:  v.viewportWidth,
		ViewportHeight: v.viewportHeight,
	}

	p, err := v.open(ctx)
	if err != nil {
		return result, err
	}
	defer p.Close()

	if err := p.Load(ctx, document); err != nil {
		return result, err
	}
	if err := v.settle(ctx); err != nil {
		return result, err
	}

	elements, err := p.Discover(ctx, v.cfg.MaxElements)
	if err != nil {
		return result, err
	}
	if conflicts, err := p.Inspect(ctx, v.cfg.MaxElements); err != nil {
		v.logger.Warn("Layout inspection failed", zap.Error(err))
	} else {
		result.Conflicts = conflicts
	}

	for i, el := range elements {
		if i > 0 && v.cfg.ResetBetweenElements {
			if err := p.Load(ctx, document); err != nil {
				return result, err
			}
			if err := v.settle(ctx); err != nil {
				return result, err
			}
		}
		er, shot := v.exercise(ctx, p, el)
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if result.Screenshot == nil && shot != nil {
			result.Screenshot = shot
		}
		result.ElementResults = append(result.ElementResults, er)
	}

	result.JSErrors, result.ConsoleErrors = p.Errors()
	result.ValidationTimeMs = time.Since(start).Milliseconds()
	result.Passed = !result.HasRuntimeErrors() && result.SuccessRate() >= v.cfg.PassThreshold

	v.logger.Debug("Validation finished",
		zap.Int("elements", len(result.ElementResults)),
		zap.Float64("success_rate", result.SuccessRate()),
		zap.Int("js_errors", len(result.JSErrors)),
		zap.Int64("duration_ms", result.ValidationTimeMs),
	)
	if v.metrics != nil {
		v.metrics.RecordValidation(result)
	}
	return result, nil
}

// exercise judges one element and returns its baseline render.
func (v *Validator) exercise(ctx context.Context, p pageSession, target element) (schemas.ElementResult, []byte) {
	er := schemas.ElementResult{Selector: target.Selector, Tag: target.Tag, Status: schemas.StatusNoResponse}

	el, err := p.Locate(ctx, target.Selector)
	if err != nil {
		er.Error = err.Error()
		return er, nil
	}
	if !el.Found {
		er.Error = "element not found after reload"
		return er, nil
	}

	before, err := p.Screenshot(ctx)
	if err != nil {
		er.Error = err.Error()
		return er, nil
	}
	if err := p.Trigger(ctx, el); err != nil {
		er.Error = err.Error()
		return er, before
	}
	if err := v.settle(ctx); err != nil {
		er.Error = err.Error()
		return er, before
	}
	after, err := p.Screenshot(ctx)
	if err != nil {
		er.Error = err.Error()
		return er, before
	}

	regions := regionsFor(el.Rect, el.Parent, v.viewportWidth, v.viewportHeight, v.cfg.TightPadding, v.cfg.LocalPadding)
	diff, err := compareScreenshots(before, after, regions, v.cfg.PixelTolerance)
	if err != nil {
		er.Error = err.Error()
		return er, before
	}
	er.Diff = diff
	er.Status = classify(diff, v.cfg.Thresholds)
	return er, before
}

// Probe loads document once and reports runtime errors and layout conflicts.
func (v *Validator) Probe(ctx context.Context, document string) (schemas.PageObservations, error) {
	obs := schemas.PageObservations{ConsoleErrors: []string{}, JSErrors: []string{}, Conflicts: []schemas.VisualConflict{}}

	p, err := v.open(ctx)
	if err != nil {
		return obs, err
	}
	defer p.Close()

	if err := p.Load(ctx, document); err != nil {
		return obs, err
	}
	if err := v.settle(ctx); err != nil {
		return obs, err
	}
	elements, err := p.Discover(ctx, v.cfg.MaxElements)
	if err != nil {
		return obs, err
	}
	obs.TotalInteractive = len(elements)

	conflicts, err := p.Inspect(ctx, v.cfg.MaxElements)
	if err != nil {
		return obs, err
	}
	obs.Conflicts = conflicts
	obs.JSErrors, obs.ConsoleErrors = p.Errors()
	return obs, nil
}

func (v *Validator) settle(ctx context.Context) error {
	if v.cfg.Settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(v.cfg.Settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
