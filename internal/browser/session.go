// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Page is the view of a browser tab that failure diagnostics rely on.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Closed() bool
}

// Session is the single long-lived browser tab shared by every test of a run.
// Each operation blocks until it completes or the per-action timeout expires.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	tracker *networkTracker

	timeout    time.Duration
	navTimeout time.Duration

	mu       sync.Mutex
	isClosed bool
}

var _ Page = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, timeout, navTimeout time.Duration) *Session {
	return &Session{
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		tracker:    newNetworkTracker(logger),
		timeout:    timeout,
		navTimeout: navTimeout,
	}
}

// startTracking subscribes to the tab's network events.
func (s *Session) startTracking(ctx context.Context) error {
	chromedp.ListenTarget(s.ctx, s.tracker.handleEvent)
	return s.runActions(ctx, s.timeout, network.Enable())
}

// Timeout returns the default per-action timeout.
func (s *Session) Timeout() time.Duration { return s.timeout }

// Closed reports whether the tab can no longer be driven.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed || s.ctx.Err() != nil
}

// Close terminates the tab and the browser process behind it. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// runActions runs actions bounded by the session lifetime, ctx and timeout.
func (s *Session) runActions(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.runActions(ctx, s.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitNetworkIdle blocks until no request has been in flight for quiet.
func (s *Session) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()
	if err := s.tracker.waitIdle(waitCtx, quiet); err != nil {
		return fmt.Errorf("network did not become idle: %w", err)
	}
	return nil
}

// selectorOption picks XPath evaluation for selectors starting with "/" or "(",
// and CSS otherwise.
func selectorOption(sel string) chromedp.QueryOption {
	if isXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// Click waits for sel to be visible and clicks it.
func (s *Session) Click(ctx context.Context, sel string) error {
	opt := selectorOption(sel)
	if err := s.runActions(ctx, s.timeout,
		chromedp.WaitVisible(sel, opt),
		chromedp.Click(sel, opt),
	); err != nil {
		return fmt.Errorf("failed to click %q: %w", sel, err)
	}
	return nil
}

// Fill replaces the content of the input matched by sel with text, typing it
// so the application's input handlers fire.
func (s *Session) Fill(ctx context.Context, sel, text string) error {
	opt := selectorOption(sel)
	var selected bool
	if err := s.runActions(ctx, s.timeout,
		chromedp.WaitVisible(sel, opt),
		chromedp.Evaluate(queryFirstScript(sel, `el.focus(); if (typeof el.select === "function") { el.select(); } return true;`), &selected),
		chromedp.SendKeys(sel, kb.Delete+text, opt),
	); err != nil {
		return fmt.Errorf("failed to fill %q: %w", sel, err)
	}
	return nil
}

// keyNames maps readable key names onto the sequences chromedp dispatches.
var keyNames = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
	"Delete":    kb.Delete,
	"ArrowDown": kb.ArrowDown,
	"ArrowUp":   kb.ArrowUp,
}

// Press sends key to the element matched by sel. Unknown names are typed verbatim.
func (s *Session) Press(ctx context.Context, sel, key string) error {
	seq, ok := keyNames[key]
	if !ok {
		seq = key
	}
	if err := s.runActions(ctx, s.timeout, chromedp.SendKeys(sel, seq, selectorOption(sel))); err != nil {
		return fmt.Errorf("failed to press %s on %q: %w", key, sel, err)
	}
	return nil
}

// Text returns the visible text of the first element matched by sel.
func (s *Session) Text(ctx context.Context, sel string) (string, error) {
	var out string
	if err := s.runActions(ctx, s.timeout, chromedp.Text(sel, &out, selectorOption(sel))); err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", sel, err)
	}
	return strings.TrimSpace(out), nil
}

// Value returns the current value of the form control matched by sel.
func (s *Session) Value(ctx context.Context, sel string) (string, error) {
	var out string
	if err := s.runActions(ctx, s.timeout, chromedp.Value(sel, &out, selectorOption(sel))); err != nil {
		return "", fmt.Errorf("failed to read value of %q: %w", sel, err)
	}
	return out, nil
}

// ScrollToLast scrolls the last element matched by sel into view, which makes
// lazily loaded lists fetch their next page.
func (s *Session) ScrollToLast(ctx context.Context, sel string) error {
	var st struct {
		Found bool `json:"found"`
	}
	script := queryAllScript(sel, `const el = els[els.length - 1];
		if (!el) { return {found: false}; }
		el.scrollIntoView({block: "end"});
		return {found: true};`)
	if err := s.runActions(ctx, s.timeout, chromedp.Evaluate(script, &st)); err != nil {
		return fmt.Errorf("failed to scroll to %q: %w", sel, err)
	}
	if !st.Found {
		return fmt.Errorf("no element matches %q", sel)
	}
	return nil
}

// Visible reports, without waiting, whether any element matched by sel is rendered.
func (s *Session) Visible(ctx context.Context, sel string) (bool, error) {
	var visible bool
	script := queryAllScript(sel, `return els.some((el) => {
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none";
	});`)
	if err := s.runActions(ctx, s.timeout, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("failed to check visibility of %q: %w", sel, err)
	}
	return visible, nil
}

// Count returns how many elements sel currently matches.
func (s *Session) Count(ctx context.Context, sel string) (int, error) {
	var n int
	if err := s.runActions(ctx, s.timeout, chromedp.Evaluate(queryAllScript(sel, `return els.length;`), &n)); err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", sel, err)
	}
	return n, nil
}

// WaitVisible blocks until sel is visible or the action timeout expires.
func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	if err := s.runActions(ctx, s.timeout, chromedp.WaitVisible(sel, selectorOption(sel))); err != nil {
		return fmt.Errorf("element %q never became visible: %w", sel, err)
	}
	return nil
}

// WaitEnabled blocks until sel is enabled or the action timeout expires.
func (s *Session) WaitEnabled(ctx context.Context, sel string) error {
	if err := s.runActions(ctx, s.timeout, chromedp.WaitEnabled(sel, selectorOption(sel))); err != nil {
		return fmt.Errorf("element %q never became enabled: %w", sel, err)
	}
	return nil
}

type enabledState struct {
	Found   bool `json:"found"`
	Enabled bool `json:"enabled"`
}

// Enabled reports whether the first element matched by sel accepts interaction.
func (s *Session) Enabled(ctx context.Context, sel string) (bool, error) {
	var st enabledState
	script := queryFirstScript(sel, `return {found: true, enabled: !el.disabled && el.getAttribute("aria-disabled") !== "true"};`)
	if err := s.runActions(ctx, s.timeout, chromedp.Evaluate(script, &st)); err != nil {
		return false, fmt.Errorf("failed to check enabled state of %q: %w", sel, err)
	}
	if !st.Found {
		return false, fmt.Errorf("no element matches %q", sel)
	}
	return st.Enabled, nil
}

// Evaluate runs a JavaScript expression in the page and decodes its result into res.
func (s *Session) Evaluate(ctx context.Context, expression string, res interface{}) error {
	if err := s.runActions(ctx, s.timeout, chromedp.Evaluate(expression, res)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := s.runActions(ctx, s.timeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Cookies returns the browser's cookies for the current page.
func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var raw []*network.Cookie
	err := s.runActions(ctx, s.timeout, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return cookies, nil
}

// jsQueryAll resolves a selector to an array of elements, as XPath or CSS.
const jsQueryAll = `function(sel) {
	if (sel.startsWith("/") || sel.startsWith("(")) {
		const r = document.evaluate(sel, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < r.snapshotLength; i++) { out.push(r.snapshotItem(i)); }
		return out;
	}
	return Array.from(document.querySelectorAll(sel));
}`

// queryAllScript wraps body in a function receiving the matched elements as els.
func queryAllScript(sel, body string) string {
	quoted, _ := json.MarshalToString(sel)
	return fmt.Sprintf("(function(els) { %s })((%s)(%s))", body, jsQueryAll, quoted)
}

// queryFirstScript wraps body in a function receiving the first match as el.
// When nothing matches the script returns {found: false}.
func queryFirstScript(sel, body string) string {
	quoted, _ := json.MarshalToString(sel)
	return fmt.Sprintf("(function(el) { if (!el) { return {found: false}; } %s })((%s)(%s)[0])", body, jsQueryAll, quoted)
}
