package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// element describes one interactive element found in the rendered page.
type element struct {
	Found    bool   `json:"found"`
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Rect     Rect   `json:"rect"`
	Parent   Rect   `json:"parent"`
}

// takesText reports whether the primary interaction is typing.
func (e element) takesText() bool {
	switch e.Tag {
	case "textarea":
		return true
	case "input":
		switch e.Type {
		case "", "text", "email", "search", "password", "url", "tel", "number":
			return true
		}
	}
	return false
}

type conflictInfo struct {
	Kind     string            `json:"kind"`
	Selector string            `json:"selector"`
	Tag      string            `json:"tag"`
	Occluder string            `json:"occluder"`
	Metadata map[string]string `json:"metadata"`
}

// pageSession is one isolated rendering of a document.
type pageSession interface {
	Load(ctx context.Context, document string) error
	Discover(ctx context.Context, limit int) ([]element, error)
	Locate(ctx context.Context, selector string) (element, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Trigger(ctx context.Context, el element) error
	Inspect(ctx context.Context, limit int) ([]schemas.VisualConflict, error)
	// Errors returns uncaught exceptions and console errors seen so far.
	Errors() (jsErrors, consoleErrors []string)
	Close() error
}

// cdpPage is a pageSession backed by one Chrome tab.
type cdpPage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	release     func()
	closeOnce   sync.Once
	loadTimeout time.Duration
	logger      *zap.Logger

	mu            sync.Mutex
	jsErrors      []string
	consoleErrors []string
}

func (p *cdpPage) listen() {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventExceptionThrown:
			if e.ExceptionDetails == nil {
				return
			}
			text := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				text = e.ExceptionDetails.Exception.Description
			}
			p.record(&p.jsErrors, firstLine(text))
		case *runtime.EventConsoleAPICalled:
			if e.Type != runtime.APITypeError {
				return
			}
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				switch {
				case arg.Description != "":
					parts = append(parts, arg.Description)
				case len(arg.Value) > 0:
					parts = append(parts, strings.Trim(string(arg.Value), `"`))
				}
			}
			p.record(&p.consoleErrors, strings.Join(parts, " "))
		case *log.EventEntryAdded:
			if e.Entry != nil && e.Entry.Level == log.LevelError {
				p.record(&p.consoleErrors, e.Entry.Text)
			}
		case *page.EventJavascriptDialogOpening:
			// Handling a dialog from inside the listener would deadlock.
			go func() {
				if err := chromedp.Run(p.ctx, page.HandleJavaScriptDialog(true)); err != nil {
					p.logger.Debug("Failed to dismiss dialog", zap.Error(err))
				}
			}()
		}
	})
}

func (p *cdpPage) record(dst *[]string, msg string) {
	if msg == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*dst = append(*dst, msg)
}

func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *cdpPage) Load(ctx context.Context, document string) error {
	loadCtx, cancel := context.WithTimeout(ctx, p.loadTimeout)
	defer cancel()
	err := p.run(loadCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	return nil
}

func (p *cdpPage) Discover(ctx context.Context, limit int) ([]element, error) {
	var out []element
	if err := p.run(ctx, chromedp.Evaluate(discoverScript(limit), &out)); err != nil {
		return nil, fmt.Errorf("failed to discover interactive elements: %w", err)
	}
	return out, nil
}

func (p *cdpPage) Locate(ctx context.Context, selector string) (element, error) {
	var el element
	if err := p.run(ctx, chromedp.Evaluate(locateScript(selector), &el)); err != nil {
		return element{}, fmt.Errorf("failed to locate %s: %w", selector, err)
	}
	return el, nil
}

func (p *cdpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Trigger performs the element's primary interaction at its center point, so
// anything painted on top receives the event as it would for a user.
func (p *cdpPage) Trigger(ctx context.Context, el element) error {
	x, y := el.Rect.Center()
	actions := []chromedp.Action{chromedp.MouseClickXY(x, y)}
	if el.takesText() {
		actions = append(actions, chromedp.KeyEvent("mender"))
	}
	if err := p.run(ctx, actions...); err != nil {
		return fmt.Errorf("failed to interact with %s: %w", el.Selector, err)
	}
	return nil
}

func (p *cdpPage) Inspect(ctx context.Context, limit int) ([]schemas.VisualConflict, error) {
	var raw []conflictInfo
	if err := p.run(ctx, chromedp.Evaluate(inspectScript(limit), &raw)); err != nil {
		return nil, fmt.Errorf("failed to inspect layout: %w", err)
	}
	out := make([]schemas.VisualConflict, 0, len(raw))
	for _, c := range raw {
		out = append(out, schemas.VisualConflict{
			Kind:             schemas.ErrorKind(c.Kind),
			Selector:         c.Selector,
			Tag:              c.Tag,
			OccluderSelector: c.Occluder,
			Metadata:         c.Metadata,
		})
	}
	return out, nil
}

func (p *cdpPage) Errors() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dedupe(p.jsErrors), dedupe(p.consoleErrors)
}

func (p *cdpPage) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.release()
	})
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
