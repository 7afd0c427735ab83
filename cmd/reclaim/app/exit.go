package app

import (
	"os"

	"github.com/agentstation/reclaim/pkg/errors"
)

// Process exit codes.
const (
	// ExitOK means success, including runs with nothing to do.
	ExitOK = 0
	// ExitPartial means some actions failed or were rolled back.
	ExitPartial = 1
	// ExitFatal means the run could not start: a collaborator was
	// unreachable or the configuration was invalid.
	ExitFatal = 2
)

// ErrPartialFailure is returned when a run completed but some assets
// failed or were rolled back.
var ErrPartialFailure = errors.New("some assets failed to reconcile")

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	var cfgErr *errors.ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.IsFatal(err), errors.IsValidationError(err), errors.As(err, &cfgErr):
		return ExitFatal
	default:
		return ExitPartial
	}
}

// ExitOnError prints a non-nil error and exits with its exit code.
// This is meant to be used in main.go for top-level error handling.
func ExitOnError(err error) {
	if err != nil {
		//nolint:errcheck // Ignoring write error since we're exiting anyway
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(ExitCode(err))
	}
}
