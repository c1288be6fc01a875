// Package cli provides the command-line interface for comfyrelay.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/renderfleet/comfyrelay/internal/comfy"
	"github.com/renderfleet/comfyrelay/internal/config"
	"github.com/renderfleet/comfyrelay/internal/export"
	"github.com/renderfleet/comfyrelay/internal/metrics"
	"github.com/renderfleet/comfyrelay/internal/runner"
	"github.com/renderfleet/comfyrelay/internal/storage"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Global config, logger and backend client
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	backend  *comfy.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "comfyrelay",
	Short: "Submit and monitor ComfyUI render jobs",
	Long: `Comfyrelay drives a ComfyUI backend from the command line: submit
workflows with per-job overrides, watch execution progress live, validate
model references against the backend inventory, and rehost finished images
to S3-compatible storage.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		} else {
			cfg = config.Load()
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		backend = comfy.New(cfg, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newRunner builds a job runner, wiring S3 storage when configured.
func newRunner(ctx context.Context) (*runner.Runner, error) {
	var store export.ObjectStore
	if sCfg := storage.ConfigFrom(cfg); sCfg.Configured() {
		s, err := storage.New(ctx, sCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		store = s
	}

	exporter := export.New(backend, store, logger)
	return runner.New(backend, exporter, cfg, logger, metrics.NewCollector()), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(healthCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
