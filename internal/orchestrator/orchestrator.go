// Package orchestrator drives a document through the repair state machine:
// classify, deterministic patching, sandbox validation and bounded generative
// repair, keeping the best candidate seen under a global time budget.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/reporting"
)

// Collaborators are the components the state machine drives. Validator may be
// nil when both validation steps are disabled, Fixer when no generative
// attempts are configured.
type Collaborators struct {
	Classifier schemas.Classifier
	Rules      schemas.RuleEngine
	Injector   schemas.Injector
	Validator  schemas.SandboxValidator
	Fixer      schemas.GenerativeFixer
}

// Recorder observes every completed run.
type Recorder interface {
	RecordRun(res schemas.OrchestratorResult)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder reports each result to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// Orchestrator runs fix invocations. It holds no per-run state and is safe
// for concurrent use.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	logger   *zap.Logger
	c        Collaborators
	reports  *reporting.ReportGenerator
	recorder Recorder
	now      func() time.Time
}

// New creates an Orchestrator with its collaborators provided as interfaces.
func New(cfg config.OrchestratorConfig, logger *zap.Logger, c Collaborators, opts ...Option) (*Orchestrator, error) {
	if logger == nil || c.Classifier == nil || c.Rules == nil || c.Injector == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator configuration: %w", err)
	}
	if (cfg.ValidateAfterDeterministic || cfg.ValidateAfterLLM) && c.Validator == nil {
		return nil, errors.New("a sandbox validator is required when validation is enabled")
	}
	if cfg.MaxLLMAttempts > 0 && c.Fixer == nil {
		return nil, errors.New("a generative fixer is required when max_llm_attempts is positive")
	}

	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		c:       c,
		reports: reporting.NewReportGenerator(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) String() string {
	return fmt.Sprintf("Orchestrator(max_llm_attempts=%d, global_timeout_seconds=%s)",
		o.cfg.MaxLLMAttempts, strconv.FormatFloat(o.cfg.GlobalTimeoutSeconds, 'f', -1, 64))
}

// GoString makes %#v print the configured limits instead of the collaborators.
func (o *Orchestrator) GoString() string { return o.String() }

// Fix repairs document and always returns a completed result. Collaborator
// errors, panics, cancellation and the global timeout all end in the FAILED
// phase with ErrorMessage set; the best candidate found so far is kept.
func (o *Orchestrator) Fix(ctx context.Context, document string) schemas.OrchestratorResult {
	start := time.Now()
	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID))
	p := newProgress(runID, o.now)

	budget := o.cfg.GlobalTimeout()
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic in repair pipeline", zap.Any("panic_value", r), zap.Stack("stack"))
				done <- fmt.Errorf("repair pipeline panicked: %v", r)
			}
		}()
		done <- o.run(runCtx, p, document, logger)
	}()

	var res schemas.OrchestratorResult
	select {
	case err := <-done:
		res = o.finish(runCtx, p, err, budget, start)
	case <-runCtx.Done():
		// A collaborator still in flight is abandoned; its later writes to p
		// are dropped once the run is sealed.
		select {
		case err := <-done:
			res = o.finish(runCtx, p, err, budget, start)
		default:
			res = p.seal(schemas.PhaseFailed, interruption(runCtx, budget), false, time.Since(start))
		}
	}

	logger.Info("Fix run finished",
		zap.Bool("success", res.Success),
		zap.Float64("score", res.FinalScore),
		zap.Int("errors", res.ErrorsRemaining),
		zap.Duration("duration", time.Since(start)),
		zap.String("error_message", res.ErrorMessage),
	)
	if o.recorder != nil {
		o.recorder.RecordRun(res)
	}
	return res
}

func (o *Orchestrator) finish(ctx context.Context, p *progress, err error, budget time.Duration, start time.Time) schemas.OrchestratorResult {
	switch {
	case err == nil:
		return p.seal(schemas.PhaseComplete, "", false, time.Since(start))
	case ctx.Err() != nil:
		return p.seal(schemas.PhaseFailed, interruption(ctx, budget), false, time.Since(start))
	default:
		return p.seal(schemas.PhaseFailed, err.Error(), true, time.Since(start))
	}
}

func interruption(ctx context.Context, budget time.Duration) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timeout: global budget of %s exceeded", budget)
	}
	return fmt.Sprintf("fix canceled: %v", ctx.Err())
}

// run is the pipeline proper. It returns nil when the state machine reached
// COMPLETE.
func (o *Orchestrator) run(ctx context.Context, p *progress, document string, logger *zap.Logger) error {
	if !p.enter(schemas.PhaseClassify, 0) {
		return ctx.Err()
	}
	started := time.Now()
	report, err := o.c.Classifier.Classify(ctx, document, nil)
	elapsed := time.Since(started)
	p.update(func(m *schemas.FixMetrics) {
		m.ClassificationTimeMs = float64(elapsed) / float64(time.Millisecond)
		m.ErrorsInitial = report.Len()
	})
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	initial := report.Len()
	logger.Info("Document classified",
		zap.Int("errors", initial),
		zap.Int("rule_fixable", len(report.RuleFixable())),
		zap.Int("generative", len(report.GenerativeRequired())),
	)
	if initial == 0 {
		p.offer(candidate{origin: "original", document: document, score: 1, usable: true})
		p.score(1, 0)
		p.note("no errors found")
		return nil
	}

	best := p.offer(candidate{origin: "original", document: document, remaining: report.Errors})
	p.score(best.score, initial)

	if fixable := report.RuleFixable(); len(fixable) > 0 {
		cand, err := o.deterministic(ctx, p, document, fixable, initial, logger)
		if err != nil {
			return err
		}
		if cand != nil {
			best = p.offer(*cand)
		}
	}

	return o.generative(ctx, p, best, initial, logger)
}

func (o *Orchestrator) deterministic(ctx context.Context, p *progress, document string, fixable []schemas.ClassifiedError, initial int, logger *zap.Logger) (*candidate, error) {
	if !p.enter(schemas.PhaseDeterministic, 0) {
		return nil, ctx.Err()
	}
	set := o.c.Rules.ApplyRules(fixable)
	inj := o.c.Injector.Inject(document, set)
	p.update(func(m *schemas.FixMetrics) { m.PatchesApplied += len(inj.Applied) })
	p.note(fmt.Sprintf("%d patches applied, %d failed", len(inj.Applied), len(inj.Failed)))
	logger.Info("Deterministic patches injected",
		zap.Int("patches", set.Len()),
		zap.Int("applied", len(inj.Applied)),
		zap.Int("failed", len(inj.Failed)),
	)
	if len(inj.Applied) == 0 {
		return nil, nil
	}
	return o.evaluate(ctx, p, "deterministic", inj.Document, o.cfg.ValidateAfterDeterministic, schemas.PhaseValidateDeterministic, 0, initial, logger)
}

// generative runs the bounded fallback loop. Each attempt starts from the best
// candidate so far and is folded back into it.
func (o *Orchestrator) generative(ctx context.Context, p *progress, best candidate, initial int, logger *zap.Logger) error {
	for attempt := 1; attempt <= o.cfg.MaxLLMAttempts; attempt++ {
		if best.usable && best.score >= o.cfg.PassThreshold {
			logger.Debug("Best candidate passes; no generative attempt needed", zap.Float64("score", best.score))
			return nil
		}
		errs := best.generative()
		if len(errs) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.enter(schemas.PhaseLLMFix, attempt) {
			return ctx.Err()
		}

		var screenshots [][]byte
		if len(best.screenshot) > 0 {
			screenshots = [][]byte{best.screenshot}
		}
		res, err := o.c.Fixer.Fix(ctx, errs, best.document, screenshots)
		p.update(func(m *schemas.FixMetrics) {
			m.LLMCallsMade += res.CallsMade
			m.LLMTokensUsed += res.TokensUsed
		})
		if err != nil {
			return fmt.Errorf("generative repair attempt %d failed: %w", attempt, err)
		}
		if !res.Success || res.FixedDocument == "" {
			p.note("no usable repair: " + res.Error)
			logger.Info("Generative attempt produced no candidate", zap.Int("attempt", attempt), zap.String("reason", res.Error))
			continue
		}

		origin := "generative#" + strconv.Itoa(attempt)
		cand, err := o.evaluate(ctx, p, origin, res.FixedDocument, o.cfg.ValidateAfterLLM, schemas.PhaseValidateLLM, attempt, initial, logger)
		if err != nil {
			return err
		}
		best = p.offer(*cand)
	}
	return nil
}

// evaluate scores a candidate document. With validation the sandbox verdict
// decides; the classifier then reuses the sandbox's observations instead of
// rendering again. Without validation only static evidence counts.
func (o *Orchestrator) evaluate(ctx context.Context, p *progress, origin, document string, validate bool, phase schemas.FixPhase, attempt, initial int, logger *zap.Logger) (*candidate, error) {
	c := candidate{origin: origin, document: document}

	if !validate {
		report, err := o.c.Classifier.ClassifyStatic(ctx, document)
		if err != nil {
			return nil, fmt.Errorf("re-classifying %s candidate failed: %w", origin, err)
		}
		c.remaining = report.Errors
		c.score = staticScore(len(c.remaining), initial)
		c.usable = len(c.remaining) == 0
		p.score(c.score, len(c.remaining))
		return &c, nil
	}

	if !p.enter(phase, attempt) {
		return nil, ctx.Err()
	}
	vr, err := o.c.Validator.Validate(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("validating %s candidate failed: %w", origin, err)
	}
	report, err := o.c.Classifier.Classify(ctx, document, observationsFrom(vr))
	if err != nil {
		return nil, fmt.Errorf("re-classifying %s candidate failed: %w", origin, err)
	}

	c.remaining = report.Errors
	c.screenshot = vr.Screenshot
	c.score = validatedScore(vr, o.cfg.JSErrorPenalty)
	c.usable = o.reports.Generate(vr, document, report.Errors, o.cfg.PassThreshold).Passed

	p.score(c.score, len(c.remaining))
	p.note(fmt.Sprintf("success rate %.2f, %d js errors", vr.SuccessRate(), len(vr.JSErrors)))
	logger.Info("Candidate validated",
		zap.String("candidate", origin),
		zap.Float64("score", c.score),
		zap.Bool("usable", c.usable),
		zap.Int("errors", len(c.remaining)),
	)
	return &c, nil
}

func observationsFrom(vr schemas.ValidationResult) *schemas.PageObservations {
	return &schemas.PageObservations{
		ConsoleErrors:    vr.ConsoleErrors,
		JSErrors:         vr.JSErrors,
		Conflicts:        vr.Conflicts,
		TotalInteractive: len(vr.ElementResults),
	}
}

// validatedScore is the success rate less a penalty per runtime error.
func validatedScore(vr schemas.ValidationResult, penalty float64) float64 {
	return clamp01(vr.SuccessRate() - penalty*float64(len(vr.JSErrors)))
}

// staticScore is the fraction of the initial errors that are gone.
func staticScore(remaining, initial int) float64 {
	if initial == 0 {
		return 1
	}
	return clamp01(1 - float64(remaining)/float64(initial))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
