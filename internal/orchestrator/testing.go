// File: internal/orchestrator/testing.go
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/pages"
)

// Case is one runnable test.
type Case interface {
	ID() string
	Title() string
	Markers() []string
	// Run executes the test body. A returned error fails the test.
	Run(t *T) error
}

// stopSignal unwinds a test body from Fatalf or Skipf.
type stopSignal struct {
	msg  string
	skip bool
}

// T is the per-test handle passed to a Case. Check methods record a failure
// and let the test continue; Fatalf and Skipf stop it immediately.
type T struct {
	ctx    context.Context
	id     string
	page   *pages.DKMPage
	logger *zap.Logger

	mu       sync.Mutex
	step     int
	failures []string
}

func newT(ctx context.Context, id string, page *pages.DKMPage, logger *zap.Logger) *T {
	return &T{ctx: ctx, id: id, page: page, logger: logger}
}

func (t *T) Context() context.Context { return t.ctx }
func (t *T) ID() string               { return t.id }
func (t *T) Page() *pages.DKMPage     { return t.page }
func (t *T) Logger() *zap.Logger      { return t.logger }

// Logf writes an informational line into the test's log.
func (t *T) Logf(format string, args ...interface{}) {
	t.logger.Info(fmt.Sprintf(format, args...))
}

// Step runs fn as the next numbered step, logging its name and execution time.
func (t *T) Step(name string, fn func() error) error {
	t.mu.Lock()
	t.step++
	n := t.step
	t.mu.Unlock()

	t.logger.Info(fmt.Sprintf("Step %d: %s", n, name))
	start := time.Now()
	err := fn()
	t.logger.Info(fmt.Sprintf("Execution Time for Step %d: %.2fs", n, time.Since(start).Seconds()))
	if err != nil {
		return fmt.Errorf("step %d (%s): %w", n, name, err)
	}
	return nil
}

// Check records a failure unless cond holds.
func (t *T) Check(cond bool, format string, args ...interface{}) bool {
	if !cond {
		t.fail(fmt.Sprintf(format, args...))
	}
	return cond
}

// CheckEqual records a failure with a diff unless want and got are equal.
func (t *T) CheckEqual(want, got interface{}, format string, args ...interface{}) bool {
	if cmp.Equal(want, got) {
		return true
	}
	t.fail(fmt.Sprintf("%s: mismatch (-want +got):\n%s", fmt.Sprintf(format, args...), cmp.Diff(want, got)))
	return false
}

// CheckNoError records a failure if err is non-nil.
func (t *T) CheckNoError(err error, format string, args ...interface{}) bool {
	if err == nil {
		return true
	}
	t.fail(fmt.Sprintf("%s: %v", fmt.Sprintf(format, args...), err))
	return false
}

// Fatalf fails the test and stops it.
func (t *T) Fatalf(format string, args ...interface{}) {
	panic(&stopSignal{msg: fmt.Sprintf(format, args...)})
}

// Skipf marks the test skipped and stops it.
func (t *T) Skipf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	t.logger.Info("Skipping test: " + msg)
	panic(&stopSignal{msg: msg, skip: true})
}

// Failed reports whether any check failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures) > 0
}

// Failures returns the recorded failure messages in order.
func (t *T) Failures() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.failures...)
}

func (t *T) fail(msg string) {
	t.logger.Error(msg)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, msg)
}
