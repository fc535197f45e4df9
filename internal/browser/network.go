// internal/browser/network.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

// minIdlePoll bounds how often the in-flight count is sampled.
const minIdlePoll = 10 * time.Millisecond

// networkTracker follows CDP network events to know how many requests are in flight.
type networkTracker struct {
	logger *zap.Logger

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func newNetworkTracker(logger *zap.Logger) *networkTracker {
	return &networkTracker{
		logger:       logger.Named("network"),
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

// handleEvent is registered with chromedp.ListenTarget.
func (t *networkTracker) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.mu.Lock()
		t.inflight[e.RequestID] = struct{}{}
		t.lastActivity = time.Now()
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.done(e.RequestID)
	case *network.EventLoadingFailed:
		t.done(e.RequestID)
	}
}

func (t *networkTracker) done(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.lastActivity = time.Now()
}

// Inflight returns the number of requests that have not finished or failed yet.
func (t *networkTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// waitIdle blocks until no request has been in flight for quiet, or ctx ends.
func (t *networkTracker) waitIdle(ctx context.Context, quiet time.Duration) error {
	poll := quiet / 2
	if poll < minIdlePoll {
		poll = minIdlePoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		t.mu.Lock()
		inflight := len(t.inflight)
		since := time.Since(t.lastActivity)
		t.mu.Unlock()

		if inflight == 0 && since >= quiet {
			return nil
		}
		if inflight > 0 {
			t.logger.Debug("Waiting for network idle.", zap.Int("inflight_requests", inflight))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
