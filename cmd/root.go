package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetform/cascade/internal/errtax"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeStoreUnavailable indicates the store could not be reached.
	ExitCodeStoreUnavailable = 2
	// ExitCodeConfigInvalid indicates the configuration file failed validation.
	ExitCodeConfigInvalid = 3
)

// rootCmd is the entry point when cascaded is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cascaded",
	Short: "Reconcile container observations into model and package state",
	Long: `cascaded watches container-level observations and deterministically
derives model state and package state from them, serializing writes per
resource and dispatching remediation for packages that land in Error.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file (defaults are used if unset or not found)")
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newShellCmd())
}

// SetVersion injects the build-time version into the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cascaded version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	switch errtax.KindOf(err) {
	case errtax.StoreUnavailable:
		return ExitCodeStoreUnavailable
	case errtax.Malformed:
		if errors.As(err, new(*configLoadError)) {
			return ExitCodeConfigInvalid
		}
	}
	return ExitCodeError
}

// configLoadError marks an error as originating from configuration
// loading/validation, so the root command can map it to a distinct exit
// code regardless of its errtax.Kind.
type configLoadError struct {
	cause error
}

func (e *configLoadError) Error() string { return e.cause.Error() }
func (e *configLoadError) Unwrap() error { return e.cause }
