// internal/reporting/models_test.go
package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestRecordLifecycle(t *testing.T) {
	rec := NewTestRecord("tc_10591", "", []string{"smoke"})
	assert.Equal(t, "tc_10591", rec.Title, "the id is the fallback title")
	assert.False(t, rec.Finalized())

	err := rec.AttachArtifact(DiagnosticArtifact{Name: ScreenshotName})
	assert.ErrorIs(t, err, ErrArtifactRejected, "artifacts need a finalized record")

	require.NoError(t, rec.Finalize(OutcomeFailed, PhaseCall, "boom", "INFO\tstep <1>"))
	assert.True(t, rec.Finalized())
	assert.Equal(t, OutcomeFailed, rec.Outcome())
	assert.Equal(t, PhaseCall, rec.Phase())
	assert.Equal(t, "boom", rec.Message())
	assert.Equal(t, "INFO\tstep <1>", rec.Log())
	assert.Equal(t, "<pre>INFO\tstep &lt;1&gt;</pre>", rec.Description())

	err = rec.Finalize(OutcomePassed, "", "", "")
	assert.ErrorIs(t, err, ErrRecordFinalized)
	assert.Equal(t, OutcomeFailed, rec.Outcome(), "a finalized record is immutable")

	artifact := DiagnosticArtifact{Name: ScreenshotName, Path: "screenshots/call_x.png", Timestamp: time.Now()}
	require.NoError(t, rec.AttachArtifact(artifact))
	assert.ErrorIs(t, rec.AttachArtifact(artifact), ErrArtifactRejected, "at most one artifact")

	got := rec.Artifact()
	require.NotNil(t, got)
	assert.Equal(t, "screenshots/call_x.png", got.Path)
}

func TestAttachArtifactRejectsPassedRecord(t *testing.T) {
	rec := NewTestRecord("ok", "OK", nil)
	require.NoError(t, rec.Finalize(OutcomePassed, "", "", ""))
	assert.ErrorIs(t, rec.AttachArtifact(DiagnosticArtifact{}), ErrArtifactRejected)
	assert.Nil(t, rec.Artifact())
}

func TestRunSummary(t *testing.T) {
	run := NewRun("Test Automation DKM")
	assert.NotEmpty(t, run.ID)

	outcomes := []Outcome{OutcomePassed, OutcomePassed, OutcomeFailed, OutcomeError, OutcomeSkipped}
	for i, o := range outcomes {
		rec := NewTestRecord(string(rune('a'+i)), "", nil)
		require.NoError(t, rec.Finalize(o, PhaseCall, "", ""))
		run.Add(rec)
	}

	assert.Equal(t, Summary{Total: 5, Passed: 2, Failed: 1, Errors: 1, Skipped: 1}, run.Summary())
	assert.True(t, run.HasFailures())

	run.Ended = run.Started.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, run.Duration())
}

func TestOutcomeIsFailure(t *testing.T) {
	assert.True(t, OutcomeFailed.IsFailure())
	assert.True(t, OutcomeError.IsFailure())
	assert.False(t, OutcomePassed.IsFailure())
	assert.False(t, OutcomeSkipped.IsFailure())
}
