// Package release computes release versions and assembles the release
// metadata document sent to the Hub.
package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/flakeforge/push/internal/errors"
)

// CommitCounter resolves the ancestor count of the release revision.
// Rolling mode requires it to succeed.
type CommitCounter func(ctx context.Context) (int, error)

// VersionInputs are the version resolver inputs.
type VersionInputs struct {
	// Tag enables tag mode when non-empty. The value must be a
	// `v`-prefixed SemVer.
	Tag string

	// Rolling enables rolling mode.
	Rolling bool

	// RollingMinor is the minor component in rolling mode.
	RollingMinor uint64

	// Revision is the full hex SHA being released.
	Revision string

	// CommitCount resolves the ancestor count in rolling mode.
	CommitCount CommitCounter
}

// ResolveVersion computes the release version string. Exactly one of tag
// mode and rolling mode must apply; the returned string is always a valid
// SemVer without a leading `v`.
func ResolveVersion(ctx context.Context, in VersionInputs) (string, error) {
	switch {
	case in.Tag != "" && in.Rolling:
		return "", errors.Wrap(errors.ErrInvalidInputs,
			"both a tag and rolling mode were supplied; exactly one must apply")

	case in.Tag != "":
		stripped, ok := strings.CutPrefix(in.Tag, "v")
		if !ok {
			return "", errors.Wrap(errors.ErrInvalidInputs,
				"tag %q must start with `v` followed by a SemVer, like v1.2.3", in.Tag)
		}
		if _, err := semver.StrictNewVersion(stripped); err != nil {
			return "", errors.WrapCause(errors.ErrInvalidInputs, err,
				"failed to parse tag %q as SemVer, see https://semver.org", in.Tag)
		}
		return stripped, nil

	case in.Rolling:
		if in.CommitCount == nil {
			return "", errors.Wrap(errors.ErrForgeUnavailable,
				"rolling mode requires a commit count resolver")
		}
		count, err := in.CommitCount(ctx)
		if err != nil {
			return "", err
		}
		version := fmt.Sprintf("0.%d.%d+rev-%s", in.RollingMinor, count, in.Revision)
		if _, err := semver.StrictNewVersion(version); err != nil {
			return "", errors.WrapCause(errors.ErrInvalidInputs, err,
				"synthesized rolling version %q is not a valid SemVer", version)
		}
		return version, nil

	default:
		return "", errors.Wrap(errors.ErrInvalidInputs,
			"could not determine a version: pass --tag or enable --rolling")
	}
}
