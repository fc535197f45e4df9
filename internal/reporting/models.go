// internal/reporting/models.go
package reporting

import (
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the final result of a test.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// IsFailure reports whether the outcome should trigger diagnostics.
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed || o == OutcomeError
}

// Phase is the part of the test lifecycle a failure happened in.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseCall     Phase = "call"
	PhaseTeardown Phase = "teardown"
)

// ScreenshotName is the logical name of failure screenshots in the report.
const ScreenshotName = "Screenshot"

var (
	// ErrRecordFinalized is returned when a finalized record is finalized again.
	ErrRecordFinalized = errors.New("test record already finalized")
	// ErrArtifactRejected is returned when an artifact cannot be attached to a record.
	ErrArtifactRejected = errors.New("diagnostic artifact rejected")
)

// DiagnosticArtifact references a file produced on failure.
type DiagnosticArtifact struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"` // relative to the report
	AbsPath   string    `json:"abs_path"`
	Timestamp time.Time `json:"timestamp"`
}

// TestRecord is the bookkeeping of one test. Outcome and description are fixed
// by Finalize; afterwards the only permitted change is attaching one artifact
// to a failed record.
type TestRecord struct {
	mu sync.RWMutex

	ID          string
	Title       string
	Markers     []string
	Start       time.Time
	Duration    time.Duration
	outcome     Outcome
	phase       Phase
	message     string
	log         string
	description string
	artifact    *DiagnosticArtifact
	finalized   bool
}

// NewTestRecord creates a record for a test that is about to start.
func NewTestRecord(id, title string, markers []string) *TestRecord {
	if title == "" {
		title = id
	}
	return &TestRecord{
		ID:      id,
		Title:   title,
		Markers: markers,
		Start:   time.Now(),
	}
}

// Finalize fixes the outcome, failure phase and message, and the captured log.
func (r *TestRecord) Finalize(outcome Outcome, phase Phase, message, log string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return fmt.Errorf("%w: %s", ErrRecordFinalized, r.ID)
	}
	r.outcome = outcome
	r.phase = phase
	r.message = message
	r.log = log
	r.description = fmt.Sprintf("<pre>%s</pre>", html.EscapeString(log))
	r.Duration = time.Since(r.Start)
	r.finalized = true
	return nil
}

// AttachArtifact sets the diagnostic artifact of a finalized failed record.
func (r *TestRecord) AttachArtifact(a DiagnosticArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case !r.finalized:
		return fmt.Errorf("%w: record %s is not finalized", ErrArtifactRejected, r.ID)
	case !r.outcome.IsFailure():
		return fmt.Errorf("%w: record %s did not fail", ErrArtifactRejected, r.ID)
	case r.artifact != nil:
		return fmt.Errorf("%w: record %s already has an artifact", ErrArtifactRejected, r.ID)
	}
	r.artifact = &a
	return nil
}

func (r *TestRecord) Outcome() Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome
}

func (r *TestRecord) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *TestRecord) Message() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.message
}

// Log returns the captured log text.
func (r *TestRecord) Log() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log
}

// Description returns the pre-formatted block holding the captured log.
func (r *TestRecord) Description() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.description
}

// Artifact returns the attached artifact, or nil.
func (r *TestRecord) Artifact() *DiagnosticArtifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.artifact == nil {
		return nil
	}
	a := *r.artifact
	return &a
}

func (r *TestRecord) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalized
}

// Summary counts records per outcome.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Run is one execution of the harness.
type Run struct {
	ID      string
	Title   string
	Started time.Time
	Ended   time.Time
	Records []*TestRecord
}

// NewRun starts a run with a fresh id.
func NewRun(title string) *Run {
	return &Run{
		ID:      uuid.NewString(),
		Title:   title,
		Started: time.Now(),
	}
}

// Add appends a record in execution order.
func (r *Run) Add(rec *TestRecord) {
	r.Records = append(r.Records, rec)
}

// Summary counts the run's records per outcome.
func (r *Run) Summary() Summary {
	s := Summary{Total: len(r.Records)}
	for _, rec := range r.Records {
		switch rec.Outcome() {
		case OutcomePassed:
			s.Passed++
		case OutcomeFailed:
			s.Failed++
		case OutcomeError:
			s.Errors++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

// HasFailures reports whether any test failed or errored.
func (r *Run) HasFailures() bool {
	s := r.Summary()
	return s.Failed+s.Errors > 0
}

// Duration is the wall time of the run, or the time so far if it has not ended.
func (r *Run) Duration() time.Duration {
	if r.Ended.IsZero() {
		return time.Since(r.Started)
	}
	return r.Ended.Sub(r.Started)
}
