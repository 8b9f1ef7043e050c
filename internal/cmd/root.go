package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flakeforge/push/internal/config"
	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
	"github.com/flakeforge/push/internal/pipeline"
	"github.com/flakeforge/push/internal/version"
)

// NewRootCmd creates the root command. The binary is single-purpose: it
// publishes one release per invocation, configured entirely through flags
// and FLAKEFORGE_PUSH_* environment variables.
func NewRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "flakeforge-push",
		Short:         "Publish a flake release to the registry",
		Long: `flakeforge-push snapshots a flake source tree, evaluates its outputs,
and publishes the release to the registry using the CI runner's ambient
OIDC identity.

Every flag can also be set through a FLAKEFORGE_PUSH_* environment
variable; under GitHub Actions or GitLab CI unset options default from
the runner environment.`,
		Version:       version.GetInfo().Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, verbose)
		},
	}

	flags := rootCmd.Flags()
	flags.String("visibility", "public", "release visibility: public, unlisted, private")
	flags.String("repository", "", "forge repository to query for facts, formatted like `acme/widget`")
	flags.String("name", "", "override the published owner/project pair")
	flags.String("directory", "", "sub-flake location within the repository")
	flags.String("git-root", "", "working-tree root (default: current directory)")
	flags.String("tag", "", "publish this v-prefixed SemVer tag")
	flags.String("rev", "", "override the detected revision SHA (40 hex chars)")
	flags.Bool("rolling", false, "derive the version from the commit count")
	flags.Uint64("rolling-minor", 1, "minor component in rolling mode")
	flags.Bool("mirror", false, "treat a distinct source repository as mirrored")
	flags.String("host", config.DefaultHost, "registry base URL")
	flags.String("extra-labels", "", "comma-separated labels appended to forge topics")
	flags.String("spdx-expression", "", "override the license identifier")
	flags.Bool("error-on-conflict", false, "fail when the release already exists")
	flags.Bool("include-output-paths", false, "ask the evaluator to resolve store paths")
	flags.String("github-token", "", "bearer token for the forge adapter")
	flags.Bool("my-flake-is-too-big", false, "waive the snapshot size cap")
	flags.Bool("disable-rename-subgroups", false, "reject rather than flatten subgroup repository paths")
	flags.BoolVarP(&verbose, "verbose", "v", false, "increase output verbosity")

	return rootCmd
}

func run(cmd *cobra.Command, verbose bool) error {
	output.SetupLogging(verbose)

	loader := config.NewLoader()
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return err
	}
	opts, err := loader.Load()
	if err != nil {
		return logged(err)
	}

	output.Debug("resolved options",
		"repository", opts.Repository,
		"host", opts.Host,
		"execution_environment", opts.ExecEnv.String(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.ProcessTimeout)
	defer cancel()

	result, err := pipeline.Run(ctx, opts)
	if err != nil {
		return logged(err)
	}

	for _, kv := range []struct{ key, value string }{
		{"flake_name", result.FlakeName},
		{"flake_version", result.FlakeVersion},
		{"flakeref_exact", result.FlakerefExact},
		{"flakeref_at_least", result.FlakerefAtLeast},
	} {
		if err := output.SetCIOutput(kv.key, kv.value); err != nil {
			return logged(err)
		}
	}

	return nil
}

// logged reports the error through the logger with its kind, then wraps it
// so main does not print it a second time.
func logged(err error) error {
	output.Error(err.Error(), "kind", errors.KindName(err))
	return &ExitError{
		Err:     err,
		Code:    ExitCodeFromError(err),
		Printed: true,
	}
}
