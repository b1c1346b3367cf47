// Package commands implements btstackctl's CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/arlojames/btstack/internal/logger"
	"github.com/arlojames/btstack/internal/telemetry"
	"github.com/arlojames/btstack/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile      string
	outputFormat string

	cfg *config.Config

	// stopProfiling shuts down internal/telemetry's profiler, if
	// PersistentPreRunE started one; a no-op func until then.
	stopProfiling = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "btstackctl",
	Short: "Drive the Bluetooth LE/BR-EDR host stack from the command line",
	Long: `btstackctl exercises the mgmt dispatcher and GATT handler end to end:
list and power Bluetooth adapters, connect to a peer and dump its GATT
attribute tree, or serve a local GATT database to inbound connections.

Use "btstackctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		shutdown, err := telemetry.StartProfiling(cfg.ToProfilingConfig("btstackctl"))
		if err != nil {
			return fmt.Errorf("start profiling: %w", err)
		}
		stopProfiling = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopProfiling()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: BTSTACK_* env vars and built-in defaults)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(adapterCmd)
	rootCmd.AddCommand(gattCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the btstackctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "btstackctl %s (commit %s, built %s)\n", Version, Commit, Date)
		return nil
	},
}
