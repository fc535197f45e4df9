// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/observability"
)

type ctxKey string

const (
	configKey   ctxKey = "config"
	capturesKey ctxKey = "captures"
)

// NewRootCommand builds a fresh command tree. Each call returns independent
// flag state, which keeps tests isolated.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "dkm-e2e",
		Short: "Browser end-to-end tests for Document Knowledge Mining.",
		Long: `Drives the Document Knowledge Mining web app through a real browser, checks
the chat API out of band, and writes an HTML report with per-test logs and
failure screenshots.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			// The capture core is teed into the process logger so every entry
			// can be attributed to the test that is running.
			captures := observability.NewCaptureRegistry(observability.ParseCaptureLevel(cfg.Logger().CaptureLevel))
			observability.InitializeLogger(cfg.Logger(), captures)
			observability.GetLogger().Debug("Starting dkm-e2e", zap.String("version", Version))

			ctx := context.WithValue(cmd.Context(), configKey, config.Interface(cfg))
			ctx = context.WithValue(ctx, capturesKey, captures)
			cmd.SetContext(ctx)
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newRunCmd(NewStoreProvider()))
	rootCmd.AddCommand(newReportCmd(NewStoreProvider()))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with ctx, which main ties to SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errTestsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// initializeConfig reads the config file (if any) and environment variables into v.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment only.
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in command context")
	}
	return cfg, nil
}

func getCapturesFromContext(ctx context.Context) (*observability.CaptureRegistry, error) {
	captures, ok := ctx.Value(capturesKey).(*observability.CaptureRegistry)
	if !ok || captures == nil {
		return nil, errors.New("log capture registry not found in command context")
	}
	return captures, nil
}
