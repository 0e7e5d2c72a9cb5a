package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/updater/internal/logging"
)

var log = logging.L("main")

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "breeze-updater [-- app-args...]",
	Short: "Breeze application launcher and updater",
	Long: `Breeze Updater launches the managed application and keeps it, and itself,
up to date from a GitHub, S3 or local release source.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLauncher,
}

var runCmd = &cobra.Command{
	Use:   "run [-- app-args...]",
	Short: "Launch the application and update it (default)",
	Args:  cobra.ArbitraryArgs,
	RunE:  runLauncher,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Install or update the application without launching it",
	Args:  cobra.NoArgs,
	RunE:  runUpdate,
}

var selfUpdateCmd = &cobra.Command{
	Use:   "self-update",
	Short: "Replace this executable with the latest release",
	Args:  cobra.NoArgs,
	RunE:  runSelfUpdate,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Print the installed and latest available versions",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed version and whether an updater is running",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Breeze Updater v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <executable>.toml, then ./updater.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(selfUpdateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}
