// Package config resolves the push CLI's options from flags, environment
// variables, and the CI runner environment.
package config

import (
	"path/filepath"
	"time"

	"github.com/flakeforge/push/internal/errors"
)

// Visibility of a published release.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// ParseVisibility validates a visibility string. The legacy `hidden` value
// is accepted as an alias for `unlisted`.
func ParseVisibility(s string) (Visibility, error) {
	switch s {
	case "public":
		return VisibilityPublic, nil
	case "unlisted", "hidden":
		return VisibilityUnlisted, nil
	case "private":
		return VisibilityPrivate, nil
	default:
		return "", errors.Wrap(errors.ErrInvalidInputs,
			"visibility must be one of public, unlisted, private; got %q", s)
	}
}

// ExecutionEnvironment identifies which CI runner we are executing under.
// It selects the forge adapter and the OIDC token source.
type ExecutionEnvironment string

const (
	EnvGitHub  ExecutionEnvironment = "github"
	EnvGitLab  ExecutionEnvironment = "gitlab"
	EnvGeneric ExecutionEnvironment = "generic"
)

// Defaults for tunables that are configurable but rarely changed.
const (
	DefaultHost             = "https://api.flakehub.com"
	DefaultEvaluatorTimeout = 5 * time.Minute
	DefaultProcessTimeout   = 30 * time.Minute

	// DefaultSourceSizeCap bounds the compressed snapshot unless the caller
	// waives it.
	DefaultSourceSizeCap = int64(256 * 1024 * 1024)
)

// Options holds every recognized option after flag/env/CI resolution.
// It is assembled once at startup and passed down explicitly; nothing
// mutates it afterwards.
type Options struct {
	Visibility Visibility

	// Repository is the forge repository (`owner/name`, GitLab subgroups
	// allowed) used for fact queries.
	Repository string

	// Name overrides the published owner/project pair.
	Name string

	// Directory is the flake location relative to GitRoot.
	Directory string

	// GitRoot is the working-tree root.
	GitRoot string

	Tag             string
	Rev             string
	Rolling         bool
	RollingMinor    uint64
	RollingMinorSet bool

	Mirror bool

	// Host is the Hub base URL.
	Host string

	ExtraLabels    []string
	SpdxExpression string

	ErrorOnConflict    bool
	IncludeOutputPaths bool

	GithubToken string

	// SizeCapWaived corresponds to the my-flake-is-too-big escape hatch.
	SizeCapWaived bool

	// DisableRenameSubgroups turns off owner/sub/.../name flattening.
	DisableRenameSubgroups bool

	Verbose bool

	// Resolved at load time.
	ExecEnv          ExecutionEnvironment
	EvaluatorTimeout time.Duration
	ProcessTimeout   time.Duration
	SourceSizeCap    int64
}

// UploadName returns the owner/project pair the release publishes under,
// applying the explicit name override and subgroup renaming rules.
func (o *Options) UploadName() (name, owner, project string, err error) {
	return determineNames(o.Name, o.Repository, o.DisableRenameSubgroups)
}

// Validate checks cross-option invariants that the loader cannot express.
func (o *Options) Validate() error {
	if o.Repository == "" {
		return errors.Wrap(errors.ErrInvalidInputs,
			"could not determine repository name, pass --repository formatted like `acme/widget`")
	}
	if _, _, _, err := o.UploadName(); err != nil {
		return err
	}
	if o.Tag != "" && o.Rolling {
		return errors.Wrap(errors.ErrInvalidInputs,
			"--tag and --rolling are mutually exclusive")
	}
	if o.RollingMinorSet && !o.Rolling {
		return errors.Wrap(errors.ErrInvalidInputs,
			"--rolling must be enabled to publish with a specific --rolling-minor")
	}
	if o.Rev != "" && !isFullSha(o.Rev) {
		return errors.Wrap(errors.ErrInvalidInputs,
			"--rev must be a full 40-character hex commit SHA, got %q", o.Rev)
	}
	if o.Host == "" {
		return errors.Wrap(errors.ErrInvalidInputs, "--host must not be empty")
	}
	return nil
}

func isFullSha(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// RollingMinorOrDefault returns the rolling minor component, defaulting to 1.
func (o *Options) RollingMinorOrDefault() uint64 {
	if o.RollingMinorSet {
		return o.RollingMinor
	}
	return 1
}

func (e ExecutionEnvironment) String() string {
	return string(e)
}

// FlakeDir returns GitRoot joined with the flake subdirectory.
func (o *Options) FlakeDir() string {
	if o.Directory == "" {
		return o.GitRoot
	}
	return filepath.Join(o.GitRoot, o.Directory)
}
