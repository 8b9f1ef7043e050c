// Package pipeline wires the release stages together: version resolution,
// snapshot, evaluation, metadata assembly, credential mint, and the Hub
// handshake, strictly in that order.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/flakeforge/push/internal/config"
	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/evaluator"
	"github.com/flakeforge/push/internal/forge"
	"github.com/flakeforge/push/internal/gitx"
	"github.com/flakeforge/push/internal/hub"
	"github.com/flakeforge/push/internal/output"
	"github.com/flakeforge/push/internal/release"
	"github.com/flakeforge/push/internal/snapshot"
)

// Result carries the outputs printed for the caller after a successful
// publish.
type Result struct {
	FlakeName       string
	FlakeVersion    string
	FlakerefExact   string
	FlakerefAtLeast string
}

// Run executes one release end to end. The scoped temporary directory is
// deleted on every exit path, including cancellation.
func Run(ctx context.Context, opts *config.Options) (*Result, error) {
	uploadName, owner, project, err := opts.UploadName()
	if err != nil {
		return nil, err
	}

	localRev, localRevErr := gitx.FromGitRoot(opts.GitRoot)
	if localRevErr != nil && opts.Rev == "" {
		return nil, localRevErr
	}
	if localRevErr != nil {
		output.Debug("local git facts unavailable, relying on --rev", "error", localRevErr)
	}

	forgeAdapter := forge.New(opts, owner, project)

	revision, err := resolveRevision(ctx, opts, localRev, forgeAdapter)
	if err != nil {
		return nil, err
	}

	version, err := release.ResolveVersion(ctx, release.VersionInputs{
		Tag:          opts.Tag,
		Rolling:      opts.Rolling,
		RollingMinor: opts.RollingMinorOrDefault(),
		Revision:     revision,
		CommitCount: func(ctx context.Context) (int, error) {
			return commitCount(ctx, forgeAdapter, localRev, revision, true)
		},
	})
	if err != nil {
		return nil, err
	}

	output.Info("preparing release", "release", output.FormatFlakeRef(uploadName, version))

	// Owner and project in upload URLs follow the published name, which may
	// differ from the forge repository.
	nameOwner, nameProject, _ := strings.Cut(uploadName, "/")

	scratchDir, err := os.MkdirTemp("", "flakeforge-push-")
	if err != nil {
		return nil, errors.WrapCause(errors.ErrSnapshotIO, err, "creating scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			output.Warn("could not remove scratch directory", "path", scratchDir, "error", err)
		}
	}()

	snap, err := snapshot.Build(opts.GitRoot, opts.Directory,
		filepath.Join(scratchDir, "release.tar.gz"), opts.SourceSizeCap, opts.SizeCapWaived)
	if err != nil {
		return nil, err
	}

	driver := evaluator.New(scratchDir, opts.EvaluatorTimeout)
	rawMeta, err := driver.Metadata(ctx, opts.FlakeDir())
	if err != nil {
		return nil, err
	}
	inventory, err := driver.Evaluate(ctx, snap.Path, opts.IncludeOutputPaths)
	if err != nil {
		return nil, err
	}

	var facts *forge.Facts
	if forgeAdapter != nil {
		facts, err = forgeAdapter.RepoFacts(ctx)
		if err != nil {
			return nil, err
		}
	}

	// Best effort for metadata; only rolling mode treats a missing count
	// as fatal, and that was enforced during version resolution.
	count, err := commitCount(ctx, forgeAdapter, localRev, revision, false)
	if err != nil {
		output.Warn("commit count unavailable, omitting it from metadata", "error", err)
		count = 0
	}

	metadata, err := release.Assemble(release.AssembleInputs{
		Options:          opts,
		UploadName:       uploadName,
		FlakeDir:         opts.FlakeDir(),
		Facts:            facts,
		Inventory:        inventory,
		RawFlakeMetadata: rawMeta,
		Revision:         revision,
		CommitCount:      count,
	})
	if err != nil {
		return nil, err
	}

	// The runner's OIDC JWT is short-lived; mint only now that the
	// expensive evaluation is behind us.
	token, err := hub.Mint(ctx, opts.ExecEnv, opts.Host)
	if err != nil {
		return nil, err
	}

	client := hub.NewClient(opts.Host, token.Token, nameOwner, nameProject, version)

	reserved, err := client.Reserve(ctx, metadata, snap.Length, snap.DigestBase64, opts.ErrorOnConflict)
	if err != nil {
		return nil, err
	}

	result := &Result{
		FlakeName:    uploadName,
		FlakeVersion: version,
	}

	if reserved.Conflict {
		// Idempotent success: the release exists with the same identity,
		// so the outputs match a fresh publish.
		result.FlakerefExact, result.FlakerefAtLeast = synthesizeFlakerefs(uploadName, version)
		return result, nil
	}

	if err := client.Upload(ctx, snap.Path, snap.Length, snap.DigestBase64); err != nil {
		return nil, err
	}

	committed, err := client.Commit(ctx)
	if err != nil {
		return nil, err
	}

	result.FlakerefExact = committed.FlakerefExact
	result.FlakerefAtLeast = committed.FlakerefAtLeast
	if result.FlakerefExact == "" || result.FlakerefAtLeast == "" {
		result.FlakerefExact, result.FlakerefAtLeast = synthesizeFlakerefs(uploadName, version)
	}

	output.Info(output.FormatPublished(uploadName, version))
	return result, nil
}

// resolveRevision picks the release revision: explicit --rev, then local
// HEAD, then the forge's view of the tag.
func resolveRevision(ctx context.Context, opts *config.Options, localRev *gitx.RevisionInfo, forgeAdapter forge.Forge) (string, error) {
	if opts.Rev != "" {
		return strings.ToLower(opts.Rev), nil
	}
	if localRev != nil {
		return localRev.Revision, nil
	}
	if opts.Tag != "" && forgeAdapter != nil {
		return forgeAdapter.RevisionOfTag(ctx, opts.Tag)
	}
	return "", errors.Wrap(errors.ErrInvalidInputs,
		"could not determine the release revision; pass --rev")
}

// commitCount asks the forge for the ancestor count of revision, falling
// back to the local walk. When required is set a missing count is fatal.
func commitCount(ctx context.Context, forgeAdapter forge.Forge, localRev *gitx.RevisionInfo, revision string, required bool) (int, error) {
	if forgeAdapter != nil {
		count, err := forgeAdapter.CommitCount(ctx, revision)
		if err == nil {
			return count, nil
		}
		if localRev == nil || localRev.CommitCount == 0 {
			return 0, err
		}
		output.Warn("forge commit count unavailable, using the local walk", "error", err)
	}

	if localRev != nil && localRev.CommitCount > 0 {
		return localRev.CommitCount, nil
	}
	if required {
		return 0, errors.Wrap(errors.ErrForgeUnavailable,
			"no commit count available for %s; rolling mode requires one", revision)
	}
	return 0, fmt.Errorf("no commit count available for %s", revision)
}

// synthesizeFlakerefs reconstructs the references the registry would have
// assigned, for responses that omit them and for tolerated conflicts.
func synthesizeFlakerefs(uploadName, version string) (exact, atLeast string) {
	exact = fmt.Sprintf("%s/%s", uploadName, version)
	atLeast = exact
	if v, err := semver.NewVersion(version); err == nil {
		atLeast = fmt.Sprintf("%s/%d.%d", uploadName, v.Major(), v.Minor())
	}
	return exact, atLeast
}
