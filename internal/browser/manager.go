// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
)

// Manager owns the one browser session of a run. The session is created
// lazily by the first Acquire and closed exactly once by Release.
type Manager struct {
	cfg    config.BrowserConfig
	appURL string
	logger *zap.Logger

	// Initialization state management. A failed construction is cached so
	// that every later Acquire reports the same error.
	initOnce sync.Once
	initErr  error
	session  *Session
	build    func(ctx context.Context) (*Session, error)

	// partial is published as soon as the tab exists, before navigation.
	partial atomic.Pointer[Session]

	closeOnce sync.Once
	closeErr  error
}

// NewManager creates a manager. No browser is launched until Acquire.
func NewManager(cfg config.Interface, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:    cfg.Browser(),
		appURL: cfg.App().URL,
		logger: logger.Named("session_manager"),
	}
	m.build = m.create
	m.logger.Debug("Session manager created (initialization deferred).")
	return m
}

// Acquire returns the run's session, creating it on first use: the browser is
// launched, the tab is opened and published, then the application URL is
// loaded and the network allowed to settle.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.initOnce.Do(func() {
		// A panic still leaves an error for every later caller.
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("Browser session setup panicked.", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
				m.session = nil
				m.initErr = &SessionInitError{Stage: StageLaunch, Err: fmt.Errorf("panic: %v", p), session: m.partial.Load()}
			}
		}()
		m.session, m.initErr = m.build(ctx)
	})
	return m.session, m.initErr
}

func (m *Manager) create(ctx context.Context) (*Session, error) {
	m.logger.Info("Launching browser session.", zap.Bool("headless", m.cfg.Headless), zap.String("url", m.appURL))

	// The browser must outlive the context of the test that triggered its creation.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), DefaultAllocatorOptions(m.cfg)...)
	sugar := m.logger.Named("cdp").Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run on a fresh context starts the browser and opens the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		m.logger.Error("Browser failed to launch.", zap.Error(err))
		return nil, &SessionInitError{Stage: StageLaunch, Err: err}
	}

	s := newSession(tabCtx, cancel, m.logger, m.cfg.ActionTimeout, m.cfg.NavigationTimeout)
	m.partial.Store(s)

	if err := s.startTracking(ctx); err != nil {
		m.logger.Error("Failed to enable network tracking.", zap.Error(err))
		return nil, &SessionInitError{Stage: StageLaunch, Err: err, session: s}
	}
	if err := s.Navigate(ctx, m.appURL); err != nil {
		m.logger.Error("Failed to open application.", zap.Error(err))
		return nil, &SessionInitError{Stage: StageNavigate, Err: err, session: s}
	}
	if err := s.WaitNetworkIdle(ctx, m.cfg.NetworkIdleQuiet); err != nil {
		m.logger.Error("Application never settled.", zap.Error(err))
		return nil, &SessionInitError{Stage: StageSettle, Err: err, session: s}
	}

	m.logger.Info("Browser session ready.")
	return s, nil
}

// Partial returns the tab published during construction, whether or not
// construction later succeeded. It is nil before the tab exists.
func (m *Manager) Partial() Page {
	s := m.partial.Load()
	if s == nil {
		return nil
	}
	return s
}

// Cookies returns the cookies of the open tab, so out-of-band API calls can
// share the browser's session.
func (m *Manager) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	s := m.partial.Load()
	if s == nil {
		return nil, ErrNoSession
	}
	return s.Cookies(ctx)
}

// Release closes the browser. It runs once; later calls return the first result.
// It is safe when Acquire was never called or failed.
func (m *Manager) Release(ctx context.Context) error {
	m.closeOnce.Do(func() {
		s := m.partial.Load()
		if s == nil {
			m.logger.Debug("No browser session to release.")
			return
		}
		m.logger.Info("Releasing browser session.")
		done := make(chan error, 1)
		go func() { done <- s.Close() }()
		select {
		case m.closeErr = <-done:
		case <-ctx.Done():
			m.closeErr = fmt.Errorf("timed out releasing browser session: %w", ctx.Err())
		}
	})
	return m.closeErr
}

// DefaultAllocatorOptions assembles the Chrome flags for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.StartMaximized {
		opts = append(opts, chromedp.Flag("start-maximized", true))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers need these on Linux.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}
