package forge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
	"github.com/flakeforge/push/internal/retry"
)

// DefaultGitLabBaseURL is the gitlab.com REST v4 API.
const DefaultGitLabBaseURL = "https://gitlab.com/api/v4"

// GitLab queries repository facts through the REST API. The project is
// addressed by its URL-encoded full path, subgroups included.
type GitLab struct {
	// BaseURL is overridable for tests and self-hosted instances.
	BaseURL string

	token       string
	projectPath string
	client      *http.Client
}

// NewGitLab creates a GitLab adapter for the given `owner/sub/.../name`
// project path.
func NewGitLab(baseURL, token, projectPath string) *GitLab {
	if baseURL == "" {
		baseURL = DefaultGitLabBaseURL
	}
	return &GitLab{
		BaseURL:     baseURL,
		token:       token,
		projectPath: projectPath,
		client:      httpClient(),
	}
}

func gitlabBaseURLFromEnv() string {
	if v := os.Getenv("CI_API_V4_URL"); v != "" {
		return v
	}
	return DefaultGitLabBaseURL
}

func gitlabTokenFromEnv() string {
	return os.Getenv("CI_JOB_TOKEN")
}

func (g *GitLab) projectURL(suffix string) string {
	return fmt.Sprintf("%s/projects/%s%s", g.BaseURL, url.PathEscape(g.projectPath), suffix)
}

// get issues an authenticated GET and returns the body and headers.
func (g *GitLab) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	var body []byte
	var header http.Header
	err := retry.Do(ctx, "gitlab api", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		if g.token != "" {
			req.Header.Set("JOB-TOKEN", g.token)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			if retry.RetryableNetErr(err) {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("gitlab api returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("gitlab api returned %d: %s", resp.StatusCode, string(b)))
		}
		body = b
		header = resp.Header
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return body, header, nil
}

// CommitCount reads the total commit count for revSha from the paginated
// commits listing. GitLab omits X-Total on very large repositories; that
// degrades to an error and the pipeline falls back to the local count.
func (g *GitLab) CommitCount(ctx context.Context, revSha string) (int, error) {
	listURL := g.projectURL("/repository/commits?per_page=1&ref_name=" + url.QueryEscape(revSha))
	_, header, err := g.get(ctx, listURL)
	if err != nil {
		return 0, errors.WrapCause(errors.ErrForgeUnavailable, err,
			"querying commit count for %s", g.projectPath)
	}

	total := header.Get("X-Total")
	if total == "" {
		return 0, errors.Wrap(errors.ErrForgeUnavailable,
			"gitlab did not report a commit total for %s", g.projectPath)
	}
	count, err := strconv.Atoi(total)
	if err != nil {
		return 0, errors.WrapCause(errors.ErrForgeUnavailable, err, "parsing commit total %q", total)
	}
	return count, nil
}

// RepoFacts fetches description, topics, and default branch. GitLab does
// not surface a validated SPDX identifier, so LicenseSpdx stays empty.
func (g *GitLab) RepoFacts(ctx context.Context) (*Facts, error) {
	body, _, err := g.get(ctx, g.projectURL(""))
	if err != nil {
		output.Warn("could not fetch repository facts from gitlab", "error", err)
		return &Facts{}, nil
	}

	facts := &Facts{
		Description:   gjson.GetBytes(body, "description").String(),
		DefaultBranch: gjson.GetBytes(body, "default_branch").String(),
	}
	for _, topic := range gjson.GetBytes(body, "topics").Array() {
		if t := topic.String(); t != "" {
			facts.Topics = append(facts.Topics, t)
		}
	}
	return facts, nil
}

// RevisionOfTag resolves a tag to its commit SHA.
func (g *GitLab) RevisionOfTag(ctx context.Context, tag string) (string, error) {
	body, _, err := g.get(ctx, g.projectURL("/repository/tags/"+url.PathEscape(tag)))
	if err != nil {
		return "", errors.WrapCause(errors.ErrForgeUnavailable, err, "resolving tag %s", tag)
	}

	sha := gjson.GetBytes(body, "commit.id").String()
	if sha == "" {
		return "", errors.Wrap(errors.ErrForgeUnavailable, "tag %s not found on gitlab", tag)
	}
	return sha, nil
}
