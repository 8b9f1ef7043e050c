package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
)

// Environment variable prefix for push configuration.
const envPrefix = "FLAKEFORGE_PUSH"

// Loader handles loading and merging configuration from flags and the
// environment. Flags take precedence over FLAKEFORGE_PUSH_* variables,
// which take precedence over the CI runner backfill.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()

	// Set up environment variable bindings
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	for _, key := range []string{
		"visibility",
		"repository",
		"name",
		"directory",
		"git-root",
		"tag",
		"rev",
		"rolling",
		"rolling-minor",
		"mirror",
		"host",
		"extra-labels",
		"spdx-expression",
		"error-on-conflict",
		"include-output-paths",
		"github-token",
		"my-flake-is-too-big",
		"disable-rename-subgroups",
	} {
		envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		_ = v.BindEnv(key, envKey)
	}

	return &Loader{v: v}
}

// BindFlags registers the given flag set with the loader so explicitly set
// flags win over environment values.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	return l.v.BindPFlags(flags)
}

// Load resolves the full option set. CI runner backfill is applied for
// options that neither a flag nor a FLAKEFORGE_PUSH_* variable supplied.
func (l *Loader) Load() (*Options, error) {
	visibility, err := ParseVisibility(stringOr(l.v.GetString("visibility"), "public"))
	if err != nil {
		return nil, err
	}

	opts := &Options{
		Visibility:             visibility,
		Repository:             strings.TrimSpace(l.v.GetString("repository")),
		Name:                   strings.TrimSpace(l.v.GetString("name")),
		Directory:              l.v.GetString("directory"),
		GitRoot:                l.v.GetString("git-root"),
		Tag:                    strings.TrimSpace(l.v.GetString("tag")),
		Rev:                    strings.TrimSpace(l.v.GetString("rev")),
		Rolling:                l.v.GetBool("rolling"),
		RollingMinor:           l.v.GetUint64("rolling-minor"),
		RollingMinorSet:        l.v.IsSet("rolling-minor"),
		Mirror:                 l.v.GetBool("mirror"),
		Host:                   strings.TrimRight(stringOr(l.v.GetString("host"), DefaultHost), "/"),
		ExtraLabels:            splitLabels(l.v.GetString("extra-labels")),
		SpdxExpression:         strings.TrimSpace(l.v.GetString("spdx-expression")),
		ErrorOnConflict:        l.v.GetBool("error-on-conflict"),
		IncludeOutputPaths:     l.v.GetBool("include-output-paths"),
		GithubToken:            l.v.GetString("github-token"),
		SizeCapWaived:          l.v.GetBool("my-flake-is-too-big"),
		DisableRenameSubgroups: l.v.GetBool("disable-rename-subgroups"),
		Verbose:                l.v.GetBool("verbose"),

		ExecEnv:          detectExecutionEnvironment(),
		EvaluatorTimeout: DefaultEvaluatorTimeout,
		ProcessTimeout:   DefaultProcessTimeout,
		SourceSizeCap:    DefaultSourceSizeCap,
	}

	switch opts.ExecEnv {
	case EnvGitHub:
		backfillFromGitHubEnv(opts)
	case EnvGitLab:
		backfillFromGitLabEnv(opts)
	}

	if opts.GitRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.WrapCause(errors.ErrInvalidInputs, err,
				"could not determine working-tree root, pass --git-root")
		}
		opts.GitRoot = wd
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// detectExecutionEnvironment sniffs the CI runner from its well-known
// environment markers.
func detectExecutionEnvironment() ExecutionEnvironment {
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		return EnvGitHub
	}
	if os.Getenv("GITLAB_CI") == "true" {
		return EnvGitLab
	}
	return EnvGeneric
}

// backfillFromGitHubEnv defaults unset options from the GitHub Actions
// runner environment.
func backfillFromGitHubEnv(opts *Options) {
	if opts.Repository == "" {
		if v := os.Getenv("GITHUB_REPOSITORY"); v != "" {
			output.Debug("backfilled repository from GITHUB_REPOSITORY", "repository", v)
			opts.Repository = v
		}
	}
	if opts.GitRoot == "" {
		if v := os.Getenv("GITHUB_WORKSPACE"); v != "" {
			output.Debug("backfilled git root from GITHUB_WORKSPACE", "git_root", v)
			opts.GitRoot = v
		}
	}
	if opts.Tag == "" && !opts.Rolling {
		if os.Getenv("GITHUB_REF_TYPE") == "tag" {
			if v := os.Getenv("GITHUB_REF_NAME"); v != "" {
				output.Debug("backfilled tag from GITHUB_REF_NAME", "tag", v)
				opts.Tag = v
			}
		}
	}
	if opts.Rev == "" {
		if v := os.Getenv("GITHUB_SHA"); v != "" {
			opts.Rev = v
		}
	}
	if opts.GithubToken == "" {
		opts.GithubToken = os.Getenv("GITHUB_TOKEN")
	}
}

// backfillFromGitLabEnv defaults unset options from the GitLab CI runner
// environment.
func backfillFromGitLabEnv(opts *Options) {
	if opts.Repository == "" {
		if v := os.Getenv("CI_PROJECT_PATH"); v != "" {
			output.Debug("backfilled repository from CI_PROJECT_PATH", "repository", v)
			opts.Repository = v
		}
	}
	if opts.GitRoot == "" {
		if v := os.Getenv("CI_PROJECT_DIR"); v != "" {
			output.Debug("backfilled git root from CI_PROJECT_DIR", "git_root", v)
			opts.GitRoot = v
		}
	}
	if opts.Tag == "" && !opts.Rolling {
		if v := os.Getenv("CI_COMMIT_TAG"); v != "" {
			output.Debug("backfilled tag from CI_COMMIT_TAG", "tag", v)
			opts.Tag = v
		}
	}
	if opts.Rev == "" {
		if v := os.Getenv("CI_COMMIT_SHA"); v != "" {
			opts.Rev = v
		}
	}
}

func stringOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// splitLabels parses the comma-separated extra-labels option. Empty
// segments are dropped.
func splitLabels(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var labels []string
	for _, l := range strings.Split(csv, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}
