package cmd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flakeforge/push/internal/errors"
)

func TestExitCodeFromError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil is success", nil, ExitSuccess},
		{"invalid inputs", errors.Wrap(errors.ErrInvalidInputs, "bad tag"), ExitInvalidInputs},
		{"oidc unavailable", errors.Wrap(errors.ErrOidcUnavailable, "no jwt"), ExitAuth},
		{"auth exchange", errors.Wrap(errors.ErrAuthExchange, "rejected"), ExitAuth},
		{"forge unavailable", errors.Wrap(errors.ErrForgeUnavailable, "no count"), ExitForgeUnavailable},
		{"evaluation failed", errors.Wrap(errors.ErrEvaluationFailed, "boom"), ExitEvaluationFailed},
		{"snapshot io", errors.Wrap(errors.ErrSnapshotIO, "disk full"), ExitSnapshot},
		{"source too large", errors.Wrap(errors.ErrSourceTooLarge, "too big"), ExitSnapshot},
		{"reserve conflict", errors.Wrap(errors.ErrReserveConflict, "exists"), ExitConflict},
		{"integrity mismatch", errors.Wrap(errors.ErrIntegrityMismatch, "bad hash"), ExitIntegrityMismatch},
		{"server error", errors.Wrap(errors.ErrServer, "500"), ExitGeneralError},
		{"unclassified", fmt.Errorf("anything else"), ExitGeneralError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFromError(tc.err))
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.Wrap(errors.ErrInvalidInputs, "bad option")
	exitErr := &ExitError{Err: inner, Code: ExitInvalidInputs}

	assert.Equal(t, inner.Error(), exitErr.Error())
	assert.Equal(t, ExitInvalidInputs, ExitCodeFromError(exitErr))
	assert.ErrorIs(t, exitErr, errors.ErrInvalidInputs)
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "InvalidInputs", errors.KindName(errors.Wrap(errors.ErrInvalidInputs, "x")))
	assert.Equal(t, "Unknown", errors.KindName(fmt.Errorf("y")))
}
