package release

import (
	"github.com/github/go-spdx/v2/spdxexp"

	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
)

// ResolveSpdx picks the license identifier for the release: the caller's
// expression when given (which must validate), else the forge-reported
// identifier, else empty. A forge identifier that fails SPDX validation is
// dropped rather than failing the release.
func ResolveSpdx(callerExpr, forgeSpdx string) (string, error) {
	if callerExpr != "" {
		if valid, bad := spdxexp.ValidateLicenses([]string{callerExpr}); !valid {
			return "", errors.Wrap(errors.ErrInvalidInputs,
				"invalid SPDX expression %q (unknown: %v)", callerExpr, bad)
		}
		if forgeSpdx != "" && forgeSpdx != callerExpr {
			output.Warn("SPDX expression differs from the forge-reported identifier",
				"argument", callerExpr, "forge", forgeSpdx)
		}
		return callerExpr, nil
	}

	if forgeSpdx == "" {
		return "", nil
	}
	if valid, _ := spdxexp.ValidateLicenses([]string{forgeSpdx}); !valid {
		output.Warn("forge reported an identifier that is not a valid SPDX expression, ignoring",
			"identifier", forgeSpdx)
		return "", nil
	}
	return forgeSpdx, nil
}
