package sandbox

import "context"

// CombineContext returns a context that carries ctx1's values and is
// canceled when either ctx1 or ctx2 is done. chromedp actions need the tab
// context's values while callers supply their own deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
