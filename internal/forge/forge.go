// Package forge narrows the two supported source forges down to the facts
// the release pipeline needs: ancestor counts, repository metadata, and
// tag resolution.
package forge

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/flakeforge/push/internal/config"
)

// Facts holds repository metadata used to enrich release metadata. Fields
// a forge cannot provide stay zero-valued; only the commit count is ever
// load-bearing.
type Facts struct {
	Description   string
	Topics        []string
	LicenseSpdx   string
	DefaultBranch string
	ReadmeText    string
}

// Forge is the capability set the pipeline consumes.
type Forge interface {
	// CommitCount returns the number of ancestors of revSha, including itself.
	CommitCount(ctx context.Context, revSha string) (int, error)

	// RepoFacts fetches repository metadata. Partial results degrade to
	// zero fields rather than failing the release.
	RepoFacts(ctx context.Context) (*Facts, error)

	// RevisionOfTag resolves a tag name to a full commit SHA.
	RevisionOfTag(ctx context.Context, tag string) (string, error)
}

const requestTimeout = 60 * time.Second

// httpClient is shared by both adapters: per-request timeout of 60s with
// a 10s connect timeout, connections reused across calls to the same host.
func httpClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 10 * time.Second}).DialContext
	return &http.Client{
		Timeout:   requestTimeout,
		Transport: transport,
	}
}

// New selects the adapter for the current execution environment. Generic
// runners get no forge; the pipeline then relies on local git facts alone.
func New(opts *config.Options, owner, project string) Forge {
	switch opts.ExecEnv {
	case config.EnvGitHub:
		return NewGitHub(opts.GithubToken, owner, project)
	case config.EnvGitLab:
		return NewGitLab(gitlabBaseURLFromEnv(), gitlabTokenFromEnv(), opts.Repository)
	default:
		return nil
	}
}
