// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/observability"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/reporting"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/store"
)

// runStore is the part of *store.Store the commands use.
type runStore interface {
	SaveRun(ctx context.Context, run *reporting.Run) error
	Results(ctx context.Context, runID string) ([]store.Result, error)
}

// storeProvider creates the results store. Tests inject a fake instead of a
// live database connection.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing its resources.
	Create(ctx context.Context, cfg config.Interface) (runStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the database, verifies the connection and makes sure the
// tables exist.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (%s_DATABASE_URL)", config.EnvPrefix)
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := storeService.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// newReportCmd creates the `report` command group.
func newReportCmd(provider storeProvider) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Work with test reports and stored results",
	}
	reportCmd.AddCommand(newReportFinalizeCmd())
	reportCmd.AddCommand(newReportResultsCmd(provider))
	return reportCmd
}

func newReportFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize [report.html]",
		Short: "Apply report post-processing to an existing HTML report",
		Long: `Renames the results table column configured by report.rename_from to
report.rename_to. The file is left untouched when the column is absent, so
running it twice is harmless. Defaults to report.path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path := cfg.Report().Path
			if len(args) == 1 {
				path = args[0]
			}
			reporting.NewAssembler(cfg.Report(), observability.GetLogger()).Finalize(path)
			return nil
		},
	}
}

func newReportResultsCmd(provider storeProvider) *cobra.Command {
	var runID string
	var withLogs bool

	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Print the stored results of a run as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runResults(ctx, observability.GetLogger(), cfg, provider, cmd.OutOrStdout(), runID, withLogs)
		},
	}
	resultsCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the run to print (required)")
	_ = resultsCmd.MarkFlagRequired("run-id")
	resultsCmd.Flags().BoolVar(&withLogs, "logs", false, "Include the captured log of each test")
	return resultsCmd
}

type resultView struct {
	TestID     string    `json:"test_id"`
	Title      string    `json:"title"`
	Outcome    string    `json:"outcome"`
	Phase      string    `json:"phase,omitempty"`
	Message    string    `json:"message,omitempty"`
	Seconds    float64   `json:"duration_seconds"`
	Screenshot string    `json:"screenshot,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Log        string    `json:"log,omitempty"`
}

// runResults contains the testable core of `report results`.
func runResults(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	provider storeProvider,
	out io.Writer,
	runID string,
	withLogs bool,
) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	results, err := st.Results(ctx, runID)
	if err != nil {
		return err
	}
	logger.Debug("Loaded stored results.", zap.String("run_id", runID), zap.Int("results", len(results)))

	views := make([]resultView, len(results))
	for i, r := range results {
		views[i] = resultView{
			TestID:     r.TestID,
			Title:      r.Title,
			Outcome:    string(r.Outcome),
			Phase:      string(r.Phase),
			Message:    r.Message,
			Seconds:    r.Duration.Seconds(),
			Screenshot: r.ScreenshotPath,
			StartedAt:  r.StartedAt,
		}
		if withLogs {
			views[i].Log = r.Log
		}
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(views, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize results to JSON: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
