// Package cmd provides the CLI command implementation.
package cmd

import (
	stderrors "errors"

	"github.com/flakeforge/push/internal/errors"
)

// Exit codes, one class per error kind.
const (
	// ExitSuccess indicates the release was published (or already existed
	// and conflicts are tolerated).
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidInputs indicates caller options conflicted or failed validation.
	ExitInvalidInputs = 2

	// ExitAuth indicates OIDC credentials could not be obtained or exchanged.
	ExitAuth = 3

	// ExitForgeUnavailable indicates a mandatory forge fact could not be fetched.
	ExitForgeUnavailable = 4

	// ExitEvaluationFailed indicates the evaluator failed.
	ExitEvaluationFailed = 5

	// ExitSnapshot indicates the tarball could not be built or was too large.
	ExitSnapshot = 6

	// ExitConflict indicates the release already exists and error-on-conflict is set.
	ExitConflict = 7

	// ExitIntegrityMismatch indicates storage rejected the object hash or length.
	ExitIntegrityMismatch = 8
)

// ExitCodeFromError maps an error to its exit-status class.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch errors.Kind(err) {
	case errors.ErrInvalidInputs:
		return ExitInvalidInputs
	case errors.ErrOidcUnavailable, errors.ErrAuthExchange:
		return ExitAuth
	case errors.ErrForgeUnavailable:
		return ExitForgeUnavailable
	case errors.ErrEvaluationFailed:
		return ExitEvaluationFailed
	case errors.ErrSnapshotIO, errors.ErrSourceTooLarge:
		return ExitSnapshot
	case errors.ErrReserveConflict:
		return ExitConflict
	case errors.ErrIntegrityMismatch:
		return ExitIntegrityMismatch
	default:
		return ExitGeneralError
	}
}

// ExitError wraps an error with an explicit exit code.
type ExitError struct {
	Err  error
	Code int

	// Printed is set once the command layer has already logged the error.
	Printed bool
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *ExitError) Unwrap() error {
	return e.Err
}
