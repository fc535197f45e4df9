// internal/diagnostics/diagnostics.go
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/browser"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/reporting"
)

// timestampLayout gives screenshot names second resolution.
const timestampLayout = "20060102_150405"

// captureTimeout bounds a single screenshot.
const captureTimeout = 30 * time.Second

// PartialSource exposes the handle a session constructor published before
// it finished. *browser.Manager satisfies it.
type PartialSource interface {
	Partial() browser.Page
}

// pageCarrier is implemented by errors that travel with the page they failed on,
// such as *browser.SessionInitError.
type pageCarrier interface {
	Page() browser.Page
}

// FixtureCache records the result of the session fixture the first time it runs.
// The orchestrator owns one per run and hands it to every test's Fixtures.
type FixtureCache struct {
	mu       sync.Mutex
	recorded bool
	value    browser.Page
	err      error
}

// Record stores the fixture result. Only the first call has an effect.
func (c *FixtureCache) Record(value browser.Page, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorded {
		return
	}
	c.recorded = true
	c.value = value
	c.err = err
}

// Recorded reports whether the fixture has run.
func (c *FixtureCache) Recorded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorded
}

// Result returns the recorded value and error.
func (c *FixtureCache) Result() (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}

// Fixtures is the fixture state of one test as seen at its end.
type Fixtures struct {
	// Page is set when the test's setup completed and bound a page.
	Page browser.Page
	// Session is the shared cache of the session fixture, possibly nil.
	Session *FixtureCache
}

// Diagnostics captures a screenshot of the live page when a test fails.
type Diagnostics struct {
	logger    *zap.Logger
	dir       string
	reportDir string
	partial   PartialSource
	now       func() time.Time
}

// New creates diagnostics writing into artifactsDir and linking the files
// relative to the directory of reportPath. partial may be nil.
func New(artifactsDir, reportPath string, partial PartialSource, logger *zap.Logger) *Diagnostics {
	return &Diagnostics{
		logger:    logger.Named("diagnostics"),
		dir:       artifactsDir,
		reportDir: filepath.Dir(reportPath),
		partial:   partial,
		now:       time.Now,
	}
}

// OnTestEnd runs after the record was finalized. For a failed record it
// resolves a page, saves a screenshot and attaches it. Nothing here fails the
// caller: every problem is logged and dropped.
func (d *Diagnostics) OnTestEnd(ctx context.Context, rec *reporting.TestRecord, fx Fixtures) {
	if !rec.Outcome().IsFailure() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Diagnostics panicked.", zap.String("test", rec.ID), zap.Any("panic", r))
		}
	}()

	page, source := d.resolvePage(fx)
	if page == nil {
		d.logger.Warn("No live page available, skipping screenshot.", zap.String("test", rec.ID))
		return
	}
	d.logger.Debug("Resolved page for diagnostics.", zap.String("test", rec.ID), zap.String("source", source))

	artifact, err := d.capture(ctx, page, rec)
	if err != nil {
		d.logger.Error("Failed to capture screenshot.", zap.String("test", rec.ID), zap.Error(err))
		return
	}
	if err := rec.AttachArtifact(artifact); err != nil {
		d.logger.Warn("Failed to attach screenshot.", zap.String("test", rec.ID), zap.Error(err))
		return
	}
	d.logger.Info("Screenshot saved.", zap.String("test", rec.ID), zap.String("path", artifact.AbsPath))
}

// resolvePage walks the fallback chain and returns the first live page with a
// label naming where it came from.
func (d *Diagnostics) resolvePage(fx Fixtures) (browser.Page, string) {
	if live(fx.Page) {
		return fx.Page, "fixture"
	}
	if fx.Session == nil {
		return nil, ""
	}

	if !fx.Session.Recorded() {
		return nil, ""
	}
	value, err := fx.Session.Result()
	if err == nil {
		if live(value) {
			return value, "fixture_cache"
		}
		return nil, ""
	}

	var carrier pageCarrier
	if errors.As(err, &carrier) {
		if p := carrier.Page(); live(p) {
			return p, "fixture_error"
		}
	}
	if d.partial != nil {
		if p := d.partial.Partial(); live(p) {
			return p, "partial_session"
		}
	}
	return nil, ""
}

func live(p browser.Page) bool {
	return p != nil && !p.Closed()
}

func (d *Diagnostics) capture(ctx context.Context, page browser.Page, rec *reporting.TestRecord) (reporting.DiagnosticArtifact, error) {
	var artifact reporting.DiagnosticArtifact

	captureCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	png, err := page.Screenshot(captureCtx)
	if err != nil {
		return artifact, err
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return artifact, fmt.Errorf("failed to create artifacts directory %s: %w", d.dir, err)
	}

	ts := d.now()
	name := FileName(rec.Phase(), rec.ID, ts)
	absPath, err := filepath.Abs(filepath.Join(d.dir, name))
	if err != nil {
		return artifact, fmt.Errorf("failed to resolve screenshot path: %w", err)
	}
	if err := os.WriteFile(absPath, png, 0o644); err != nil {
		return artifact, fmt.Errorf("failed to write screenshot: %w", err)
	}

	artifact = reporting.DiagnosticArtifact{
		Name:      reporting.ScreenshotName,
		Path:      d.relativeToReport(absPath),
		AbsPath:   absPath,
		Timestamp: ts,
	}
	return artifact, nil
}

// relativeToReport links the file relative to the report, falling back to the
// absolute path when no relative path exists (e.g. another drive).
func (d *Diagnostics) relativeToReport(absPath string) string {
	reportDir, err := filepath.Abs(d.reportDir)
	if err != nil {
		return filepath.ToSlash(absPath)
	}
	rel, err := filepath.Rel(reportDir, absPath)
	if err != nil {
		return filepath.ToSlash(absPath)
	}
	return filepath.ToSlash(rel)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds "<kind>_<test_name>_<YYYYMMDD_HHMMSS>.png". kind is the
// failure phase, "call" when unknown.
func FileName(phase reporting.Phase, testName string, ts time.Time) string {
	kind := string(phase)
	if kind == "" {
		kind = string(reporting.PhaseCall)
	}
	return fmt.Sprintf("%s_%s_%s.png", kind, SanitizeName(testName), ts.Format(timestampLayout))
}

// SanitizeName makes a test name safe to use in a file name.
func SanitizeName(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		return "test"
	}
	return s
}
