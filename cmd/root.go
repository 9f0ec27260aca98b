package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/app"
	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/telemetry"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

var (
	verbose    bool
	jsonOutput bool
	configDir  string
	stateDir   string

	// appOptions are appended to every App built by the root command.
	appOptions []app.Option

	application   *app.App
	shutdownTrace telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "clonebox",
	Short: "Sandbox lifecycle and quota manager for cloned apps",
	Long: `clonebox manages isolated storage sandboxes for cloned app instances.

Each sandbox gets:
  - A private directory tree (data, cache, lib, virtual proc)
  - Security descriptors derived from its isolation level
  - A storage quota enforced by a periodic monitor with automatic cleanup`,
	SilenceUsage:      true,
	PersistentPreRunE: setupApp,
}

func Execute() error {
	defer flushTraces()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", config.DefaultConfigDir, "Directory holding config.toml and policies/")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", config.DefaultStateDir, "Directory holding sandboxes, descriptors and audit logs")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func setupApp(cmd *cobra.Command, args []string) error {
	logging.Setup(verbose, jsonOutput, os.Stderr)
	logging.SetUserOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if cmd.Name() == "help" {
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown, err := telemetry.Setup(ctx, Version)
	if err != nil {
		logging.Warn("tracing disabled", "error", err)
	}
	shutdownTrace = shutdown

	opts := append([]app.Option{app.WithPaths(config.NewPaths(configDir, stateDir))}, appOptions...)
	a, err := app.New(opts...)
	if err != nil {
		return err
	}
	if err := a.Open(ctx); err != nil {
		return err
	}
	application = a
	return nil
}

// flushTraces exports buffered spans before the process exits.
func flushTraces() {
	if shutdownTrace == nil {
		return
	}
	if err := shutdownTrace(context.Background()); err != nil {
		logging.Warn("failed to flush traces", "error", err)
	}
	shutdownTrace = nil
}

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
)
