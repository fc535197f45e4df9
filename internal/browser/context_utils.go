// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from session that is also canceled
// when op is canceled. Values, including the chromedp target, come from session;
// op only contributes its cancellation signal.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)

	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// detachedContext keeps the values of its parent but none of its deadline or cancellation.
type detachedContext struct {
	context.Context
}

func (detachedContext) Deadline() (deadline time.Time, ok bool) { return }
func (detachedContext) Done() <-chan struct{}                   { return nil }
func (detachedContext) Err() error                              { return nil }

// Detach returns a context carrying ctx's values that is never canceled.
// The browser allocator hangs off a detached context so that the session
// outlives the test that happened to trigger its creation.
func Detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}
