// File: internal/orchestrator/orchestrator.go
// Description: Runs test cases one after another against the shared browser
// session. Every collaborator is injected, which keeps the runner testable
// without a browser.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/browser"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/diagnostics"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/observability"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/pages"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/reporting"
)

// releaseTimeout bounds browser shutdown at the end of a run.
const releaseTimeout = 30 * time.Second

// Session is the browser handle a test drives.
type Session interface {
	pages.Driver
	browser.Page
}

// SessionProvider hands out the run's single session.
type SessionProvider interface {
	Acquire(ctx context.Context) (Session, error)
	Release(ctx context.Context) error
}

// ResultStore persists a finished run.
type ResultStore interface {
	SaveRun(ctx context.Context, run *reporting.Run) error
}

type managerProvider struct{ m *browser.Manager }

// FromManager adapts a browser manager to a SessionProvider.
func FromManager(m *browser.Manager) SessionProvider { return managerProvider{m: m} }

func (p managerProvider) Acquire(ctx context.Context) (Session, error) {
	s, err := p.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p managerProvider) Release(ctx context.Context) error { return p.m.Release(ctx) }

// Options wires a Runner. Sessions, Captures and Diagnostics are required.
type Options struct {
	Title       string
	Sessions    SessionProvider
	Validator   pages.ResponseValidator
	Pages       config.PagesConfig
	Captures    *observability.CaptureRegistry
	Diagnostics *diagnostics.Diagnostics
	Writers     []reporting.Writer
	// Assembler post-processes ReportPath once the writers are done.
	Assembler  *reporting.Assembler
	ReportPath string
	// Store is optional.
	Store ResultStore
}

// Runner executes cases strictly in order.
type Runner struct {
	logger *zap.Logger
	opts   Options
}

// New creates a Runner.
func New(logger *zap.Logger, opts Options) (*Runner, error) {
	if logger == nil ||
		opts.Sessions == nil ||
		opts.Captures == nil ||
		opts.Diagnostics == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil dependencies")
	}
	return &Runner{logger: logger.Named("orchestrator"), opts: opts}, nil
}

// Run executes cases and produces the run's reports. A cancelled ctx stops the
// run before the next case; the reports are still written. The returned error
// is non-nil when reporting failed or the run was interrupted, never because a
// test failed.
func (r *Runner) Run(ctx context.Context, cases []Case) (*reporting.Run, error) {
	run := reporting.NewRun(r.opts.Title)
	fixture := &diagnostics.FixtureCache{}
	r.logger.Info("Test run starting.", zap.String("run_id", run.ID), zap.Int("tests", len(cases)))

	for i, c := range cases {
		if ctx.Err() != nil {
			r.logger.Warn("Run interrupted, skipping remaining tests.", zap.Int("skipped", len(cases)-i))
			break
		}
		run.Add(r.runCase(ctx, c, fixture))
	}
	run.Ended = time.Now()

	err := r.finish(context.WithoutCancel(ctx), run)
	if ctx.Err() != nil {
		err = errors.Join(err, fmt.Errorf("test run interrupted: %w", ctx.Err()))
	}
	return run, err
}

func (r *Runner) runCase(ctx context.Context, c Case, fixture *diagnostics.FixtureCache) *reporting.TestRecord {
	rec := reporting.NewTestRecord(c.ID(), c.Title(), c.Markers())

	capture, err := r.opts.Captures.Begin(rec.ID)
	if err != nil {
		r.logger.Warn("Log capture unavailable for test.", zap.String("test", rec.ID), zap.Error(err))
	} else {
		defer capture.Close()
	}

	r.logger.Info("Test started.", zap.String("test", rec.ID), zap.String("title", rec.Title))
	res := r.execute(ctx, c, rec.ID, fixture)
	logText := r.opts.Captures.End(rec.ID)

	if err := rec.Finalize(res.outcome, res.phase, res.message, logText); err != nil {
		r.logger.Error("Failed to finalize test record.", zap.String("test", rec.ID), zap.Error(err))
	}
	r.opts.Diagnostics.OnTestEnd(context.WithoutCancel(ctx), rec, res.fixtures)

	fields := []zap.Field{
		zap.String("test", rec.ID),
		zap.String("outcome", string(rec.Outcome())),
		zap.Duration("duration", rec.Duration),
	}
	if rec.Outcome().IsFailure() {
		r.logger.Warn("Test finished.", append(fields, zap.String("message", rec.Message()))...)
	} else {
		r.logger.Info("Test finished.", fields...)
	}
	return rec
}

type result struct {
	outcome  reporting.Outcome
	phase    reporting.Phase
	message  string
	fixtures diagnostics.Fixtures
}

// execute runs the setup and call phases of one case.
func (r *Runner) execute(ctx context.Context, c Case, id string, fixture *diagnostics.FixtureCache) result {
	res := result{fixtures: diagnostics.Fixtures{Session: fixture}}

	session, err := r.opts.Sessions.Acquire(ctx)
	fixture.Record(session, err)
	if err != nil {
		r.logger.Error("Session fixture failed.", zap.String("test", id), zap.Error(err))
		res.outcome = reporting.OutcomeError
		res.phase = reporting.PhaseSetup
		res.message = fmt.Sprintf("session fixture failed: %v", err)
		return res
	}
	res.fixtures.Page = session

	page := pages.New(session, r.opts.Validator, r.opts.Pages, r.logger)
	t := newT(ctx, id, page, r.logger.Named("test"))
	sig, callErr := r.call(c, t)

	res.phase = reporting.PhaseCall
	switch {
	case sig != nil && sig.skip:
		res.outcome = reporting.OutcomeSkipped
		res.phase = ""
		res.message = sig.msg
		return res
	case sig != nil:
		t.fail(sig.msg)
	case callErr != nil:
		t.fail(callErr.Error())
	}

	if t.Failed() {
		res.outcome = reporting.OutcomeFailed
		res.message = strings.Join(t.Failures(), "\n")
		return res
	}
	res.outcome = reporting.OutcomePassed
	res.phase = ""
	return res
}

// call runs the case body, turning Fatalf, Skipf and panics into results.
func (r *Runner) call(c Case, t *T) (sig *stopSignal, err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if s, ok := p.(*stopSignal); ok {
			sig = s
			return
		}
		r.logger.Error("Test panicked.", zap.String("test", t.ID()), zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		err = fmt.Errorf("panic: %v", p)
	}()
	return nil, c.Run(t)
}

// finish releases the session and produces the reports.
func (r *Runner) finish(ctx context.Context, run *reporting.Run) error {
	relCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()
	if err := r.opts.Sessions.Release(relCtx); err != nil {
		r.logger.Warn("Failed to release browser session.", zap.Error(err))
	}

	var reportErr error
	if len(r.opts.Writers) > 0 {
		if err := reporting.WriteAll(ctx, run, r.opts.Writers...); err != nil {
			r.logger.Error("Failed to write reports.", zap.Error(err))
			reportErr = fmt.Errorf("failed to write reports: %w", err)
		}
	}
	if r.opts.Assembler != nil && r.opts.ReportPath != "" {
		r.opts.Assembler.Finalize(r.opts.ReportPath)
	}
	if r.opts.Store != nil {
		if err := r.opts.Store.SaveRun(ctx, run); err != nil {
			r.logger.Warn("Failed to persist test results.", zap.Error(err))
		}
	}

	s := run.Summary()
	r.logger.Info("Test run finished.",
		zap.String("run_id", run.ID),
		zap.Int("total", s.Total),
		zap.Int("passed", s.Passed),
		zap.Int("failed", s.Failed),
		zap.Int("errors", s.Errors),
		zap.Int("skipped", s.Skipped),
		zap.Duration("duration", run.Duration()),
	)
	return reportErr
}
