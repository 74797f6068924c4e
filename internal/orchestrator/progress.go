package orchestrator

import (
	"sync"
	"time"

	"github.com/xkilldash9x/mender/api/schemas"
)

// candidate is one version of the document the pipeline could return.
type candidate struct {
	origin    string
	document  string
	score     float64
	usable    bool
	remaining []schemas.ClassifiedError
	// screenshot of the validated render, if any.
	screenshot []byte
}

// generative returns the remaining errors only a generative attempt can fix.
func (c *candidate) generative() []schemas.ClassifiedError {
	var out []schemas.ClassifiedError
	for _, e := range c.remaining {
		if e.RequiresGenerativeRepair {
			out = append(out, e)
		}
	}
	return out
}

// pick folds next into best. A later candidate displaces the current best only
// with a strictly higher score, or an equal score that turns an unusable best
// into a usable one.
func pick(best *candidate, next candidate) *candidate {
	switch {
	case best == nil:
	case next.score > best.score:
	case next.score == best.score && next.usable && !best.usable:
	default:
		return best
	}
	return &next
}

// pickAll reduces a sequence of candidates to the one pick keeps.
func pickAll(cands []candidate) *candidate {
	var best *candidate
	for _, c := range cands {
		best = pick(best, c)
	}
	return best
}

// progress is the partial result of one Fix call. The pipeline goroutine
// writes it at every phase boundary; the caller snapshots it when the
// pipeline finishes or the budget runs out, after which writes are dropped.
type progress struct {
	mu     sync.Mutex
	now    func() time.Time
	runID  string
	sealed bool

	phases  []schemas.FixPhase
	history []schemas.HistoryEntry
	metrics schemas.FixMetrics
	best    *candidate
}

func newProgress(runID string, now func() time.Time) *progress {
	p := &progress{now: now, runID: runID}
	p.enter(schemas.PhaseInitial, 0)
	return p
}

// enter appends a phase to the trail. It reports false once the run has been
// sealed, which the pipeline treats as a signal to stop.
func (p *progress) enter(phase schemas.FixPhase, attempt int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.appendLocked(phase, attempt, "")
	return true
}

func (p *progress) appendLocked(phase schemas.FixPhase, attempt int, detail string) {
	entry := schemas.HistoryEntry{Phase: phase, Attempt: attempt, Detail: detail, Timestamp: p.now().UTC()}
	if p.best != nil {
		entry.Score = p.best.score
		entry.ErrorsRemaining = len(p.best.remaining)
	}
	p.phases = append(p.phases, phase)
	p.history = append(p.history, entry)
}

// score records the best-so-far figures on the most recent history entry.
func (p *progress) score(score float64, remaining int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed || len(p.history) == 0 {
		return
	}
	last := &p.history[len(p.history)-1]
	last.Score = score
	last.ErrorsRemaining = remaining
}

// note sets the detail of the most recent history entry.
func (p *progress) note(detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed || len(p.history) == 0 {
		return
	}
	p.history[len(p.history)-1].Detail = detail
}

// offer folds a candidate into the best-so-far and returns the new best.
func (p *progress) offer(c candidate) candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sealed {
		p.best = pick(p.best, c)
	}
	if p.best == nil {
		return c
	}
	return *p.best
}

func (p *progress) update(fn func(m *schemas.FixMetrics)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sealed {
		fn(&p.metrics)
	}
}

// seal freezes the run and renders the result. final is appended to the
// phase trail; a non-empty message marks the run as failed or timed out.
func (p *progress) seal(final schemas.FixPhase, message string, failed bool, elapsed time.Duration) schemas.OrchestratorResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sealed {
		p.appendLocked(final, 0, message)
		p.sealed = true
	}

	res := schemas.OrchestratorResult{
		RunID:           p.runID,
		PhasesCompleted: append([]schemas.FixPhase(nil), p.phases...),
		History:         append([]schemas.HistoryEntry(nil), p.history...),
		Metrics:         p.metrics,
		ErrorMessage:    message,
	}
	res.Metrics.TotalDurationMs = float64(elapsed) / float64(time.Millisecond)
	if res.Metrics.TotalDurationMs <= 0 {
		res.Metrics.TotalDurationMs = 0.001
	}
	if p.best != nil {
		res.FixedHTML = p.best.document
		res.FinalScore = p.best.score
		res.ErrorsRemaining = len(p.best.remaining)
		res.Remaining = append([]schemas.ClassifiedError(nil), p.best.remaining...)
		res.Success = p.best.usable && !failed
	}
	return res
}
