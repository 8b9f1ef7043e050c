// Package errors provides the error taxonomy for the push CLI.
//
// Every failure surfaced to the orchestrator wraps exactly one of the
// sentinel kinds below; the command layer maps kinds to process exit codes.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Each maps to a distinct exit-status class.
var (
	// ErrInvalidInputs indicates caller options conflict or fail validation.
	ErrInvalidInputs = errors.New("invalid inputs")

	// ErrOidcUnavailable indicates the runner environment has no OIDC request variables.
	ErrOidcUnavailable = errors.New("oidc unavailable")

	// ErrAuthExchange indicates the registry rejected the identity token.
	ErrAuthExchange = errors.New("auth exchange failed")

	// ErrForgeUnavailable indicates a mandatory forge fact could not be fetched.
	ErrForgeUnavailable = errors.New("forge unavailable")

	// ErrEvaluationFailed indicates the evaluator exited nonzero, timed out,
	// or produced invalid JSON.
	ErrEvaluationFailed = errors.New("evaluation failed")

	// ErrSnapshotIO indicates building the source tarball failed.
	ErrSnapshotIO = errors.New("snapshot io error")

	// ErrSourceTooLarge indicates the tarball would exceed the size cap.
	ErrSourceTooLarge = errors.New("source too large")

	// ErrReserveConflict indicates the release already exists on the registry.
	ErrReserveConflict = errors.New("release already exists")

	// ErrIntegrityMismatch indicates storage rejected the object hash or length.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrReservationLost indicates the registry forgot a reserved release
	// before it could be committed.
	ErrReservationLost = errors.New("reservation lost")

	// ErrClient indicates a non-retryable 4xx registry response.
	ErrClient = errors.New("client error")

	// ErrServer indicates a 5xx registry response.
	ErrServer = errors.New("server error")

	// ErrNetwork indicates a connection or read failure.
	ErrNetwork = errors.New("network error")
)

// Wrap annotates a sentinel kind with a human message.
func Wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// WrapCause annotates a sentinel kind with a message and an underlying cause.
func WrapCause(kind error, cause error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), kind, cause)
}

// Kind returns the sentinel an error wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidInputs,
		ErrOidcUnavailable,
		ErrAuthExchange,
		ErrForgeUnavailable,
		ErrEvaluationFailed,
		ErrSnapshotIO,
		ErrSourceTooLarge,
		ErrReserveConflict,
		ErrIntegrityMismatch,
		ErrReservationLost,
		ErrClient,
		ErrServer,
		ErrNetwork,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short stable name for structured log events.
func KindName(err error) string {
	switch Kind(err) {
	case ErrInvalidInputs:
		return "InvalidInputs"
	case ErrOidcUnavailable:
		return "OidcUnavailable"
	case ErrAuthExchange:
		return "AuthExchange"
	case ErrForgeUnavailable:
		return "ForgeUnavailable"
	case ErrEvaluationFailed:
		return "EvaluationFailed"
	case ErrSnapshotIO:
		return "SnapshotIo"
	case ErrSourceTooLarge:
		return "SourceTooLarge"
	case ErrReserveConflict:
		return "ReserveConflict"
	case ErrIntegrityMismatch:
		return "IntegrityMismatch"
	case ErrReservationLost:
		return "ReservationLost"
	case ErrClient:
		return "ClientError"
	case ErrServer:
		return "ServerError"
	case ErrNetwork:
		return "NetworkError"
	default:
		return "Unknown"
	}
}
