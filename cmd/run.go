// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/browser"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/diagnostics"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/observability"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/orchestrator"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/reporting"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/scenario"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/validator"
)

// errTestsFailed makes the process exit non-zero after a run with failures.
var errTestsFailed = errors.New("one or more tests failed")

// newRunCmd creates and configures the `run` command.
func newRunCmd(provider storeProvider) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the browser scenarios against the configured application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal-aware context from main.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			captures, err := getCapturesFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			_, err = runTests(ctx, logger, cfg, captures, provider, cmd.OutOrStdout())
			return err
		},
	}

	runCmd.Flags().String("scenarios", "", "Directory holding the scenario files. (Overrides config/env)")
	runCmd.Flags().StringSliceP("marker", "m", nil, "Only run scenarios carrying one of these markers, e.g. smoke.")
	runCmd.Flags().String("run", "", "Only run scenarios whose id or title matches this regular expression.")
	runCmd.Flags().Bool("headless", false, "Run the browser without a window. (Overrides config/env)")
	runCmd.Flags().String("url", "", "Base URL of the application under test. (Overrides config/env)")
	return runCmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()
	if flags.Changed("url") {
		u, _ := flags.GetString("url")
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("--url must be an http(s) URL, got %q", u)
		}
		cfg.SetAppURL(u)
	}
	if flags.Changed("headless") {
		headless, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(headless)
	}
	if flags.Changed("scenarios") {
		dir, _ := flags.GetString("scenarios")
		cfg.SetScenariosDir(dir)
	}
	if flags.Changed("marker") {
		markers, _ := flags.GetStringSlice("marker")
		cfg.SetScenariosMarkers(markers)
	}
	if flags.Changed("run") {
		pattern, _ := flags.GetString("run")
		cfg.SetScenariosRun(pattern)
	}
	return nil
}

// runTests wires the harness from cfg and runs the selected scenarios.
func runTests(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	captures *observability.CaptureRegistry,
	provider storeProvider,
	out io.Writer,
) (*reporting.Run, error) {
	cases, err := selectCases(cfg.Scenarios())
	if err != nil {
		return nil, err
	}
	logger.Info("Scenarios selected.", zap.Int("count", len(cases)), zap.String("url", cfg.App().URL))

	manager := browser.NewManager(cfg, logger)

	var validatorOpts []validator.Option
	if cfg.Validator().ShareCookies {
		validatorOpts = append(validatorOpts, validator.WithCookieSource(manager))
	}

	reportCfg := cfg.Report()
	writers, err := newWriters(reportCfg)
	if err != nil {
		return nil, err
	}

	opts := orchestrator.Options{
		Title:       reportCfg.Title,
		Sessions:    orchestrator.FromManager(manager),
		Validator:   validator.New(cfg, logger, validatorOpts...),
		Pages:       cfg.Pages(),
		Captures:    captures,
		Diagnostics: diagnostics.New(cfg.Artifacts().Dir, reportCfg.Path, manager, logger),
		Writers:     writers,
		Assembler:   reporting.NewAssembler(reportCfg, logger),
		ReportPath:  reportCfg.Path,
	}

	if cfg.Database().URL != "" {
		st, cleanup, err := provider.Create(ctx, cfg)
		if err != nil {
			// History is optional; a missing database never blocks the tests.
			logger.Warn("Results store unavailable, continuing without it.", zap.Error(err))
		} else {
			if cleanup != nil {
				defer cleanup()
			}
			opts.Store = st
		}
	}

	runner, err := orchestrator.New(logger, opts)
	if err != nil {
		return nil, err
	}

	run, err := runner.Run(ctx, cases)
	printSummary(out, run, reportCfg.Path)
	if err != nil {
		return run, err
	}
	if run.HasFailures() {
		return run, errTestsFailed
	}
	return run, nil
}

func selectCases(sc config.ScenariosConfig) ([]orchestrator.Case, error) {
	scenarios, err := scenario.Load(sc.Dir)
	if err != nil {
		return nil, err
	}
	cases, err := orchestrator.Select(scenario.Cases(scenarios), sc.Markers, sc.Run)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no scenarios in %s match markers %v and pattern %q", sc.Dir, sc.Markers, sc.Run)
	}
	return cases, nil
}

func newWriters(rc config.ReportConfig) ([]reporting.Writer, error) {
	html, err := reporting.New("html", rc.Path, rc.Title)
	if err != nil {
		return nil, err
	}
	writers := []reporting.Writer{html}
	if rc.JUnitPath != "" {
		junit, err := reporting.New("junit", rc.JUnitPath, rc.Title)
		if err != nil {
			return nil, err
		}
		writers = append(writers, junit)
	}
	return writers, nil
}

func printSummary(out io.Writer, run *reporting.Run, reportPath string) {
	if run == nil {
		return
	}
	s := run.Summary()
	fmt.Fprintf(out, "\n%d tests: %d passed, %d failed, %d errors, %d skipped in %s\n",
		s.Total, s.Passed, s.Failed, s.Errors, s.Skipped, run.Duration().Round(time.Second))
	fmt.Fprintf(out, "Run ID: %s\nReport: %s\n", run.ID, reportPath)
}
