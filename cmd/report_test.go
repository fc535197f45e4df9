// File: cmd/report_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/reporting"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/store"
)

type fakeStore struct {
	results []store.Result
	err     error
	saved   []*reporting.Run
	queried []string
}

func (f *fakeStore) SaveRun(ctx context.Context, run *reporting.Run) error {
	f.saved = append(f.saved, run)
	return nil
}

func (f *fakeStore) Results(ctx context.Context, runID string) ([]store.Result, error) {
	f.queried = append(f.queried, runID)
	return f.results, f.err
}

type fakeProvider struct {
	store   *fakeStore
	err     error
	cleaned bool
}

func (p *fakeProvider) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned = true }, nil
}

func storedResults() []store.Result {
	return []store.Result{
		{
			RunID:     "run-1",
			TestID:    "test_golden_path_dkm",
			Title:     "TC 10591: Golden Path",
			Outcome:   reporting.OutcomePassed,
			Duration:  1500 * time.Millisecond,
			Log:       "Step 1: Validate home page",
			StartedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			RunID:          "run-1",
			TestID:         "test_search",
			Title:          "TC 10671: Search",
			Outcome:        reporting.OutcomeFailed,
			Phase:          reporting.PhaseCall,
			Message:        "no documents",
			ScreenshotPath: "screenshots/test_search.png",
			StartedAt:      time.Date(2025, 1, 2, 3, 5, 0, 0, time.UTC),
		},
	}
}

func TestRunResults(t *testing.T) {
	cfg := config.NewDefaultConfig()

	t.Run("prints the results as JSON without logs", func(t *testing.T) {
		provider := &fakeProvider{store: &fakeStore{results: storedResults()}}
		var out bytes.Buffer

		require.NoError(t, runResults(context.Background(), zap.NewNop(), cfg, provider, &out, "run-1", false))

		assert.True(t, provider.cleaned, "the store must be released")
		assert.Equal(t, []string{"run-1"}, provider.store.queried)
		assert.Contains(t, out.String(), `"test_id": "test_golden_path_dkm"`)
		assert.Contains(t, out.String(), `"duration_seconds": 1.5`)
		assert.Contains(t, out.String(), `"screenshot": "screenshots/test_search.png"`)
		assert.NotContains(t, out.String(), "Step 1: Validate home page")
	})

	t.Run("includes logs on request", func(t *testing.T) {
		provider := &fakeProvider{store: &fakeStore{results: storedResults()}}
		var out bytes.Buffer

		require.NoError(t, runResults(context.Background(), zap.NewNop(), cfg, provider, &out, "run-1", true))
		assert.Contains(t, out.String(), `"log": "Step 1: Validate home page"`)
	})

	t.Run("propagates store errors", func(t *testing.T) {
		connErr := errors.New("connection refused")
		err := runResults(context.Background(), zap.NewNop(), cfg, &fakeProvider{err: connErr}, &bytes.Buffer{}, "run-1", false)
		require.Error(t, err)
		assert.ErrorIs(t, err, connErr)

		queryErr := errors.New("relation does not exist")
		provider := &fakeProvider{store: &fakeStore{err: queryErr}}
		err = runResults(context.Background(), zap.NewNop(), cfg, provider, &bytes.Buffer{}, "run-1", false)
		assert.ErrorIs(t, err, queryErr)
		assert.True(t, provider.cleaned)
	})
}

func TestReportResultsCmd_RequiredFlags(t *testing.T) {
	resetForTest(t)

	_, err := executeCommand(t, "report", "results")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "run-id" not set`)
}

func TestDefaultStoreProvider_RequiresURL(t *testing.T) {
	_, _, err := NewStoreProvider().Create(context.Background(), config.NewDefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E2E_DATABASE_URL")
}
