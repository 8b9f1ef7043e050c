package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
	"github.com/flakeforge/push/internal/retry"
)

// DefaultGitHubEndpoint is GitHub's GraphQL API.
const DefaultGitHubEndpoint = "https://api.github.com/graphql"

const maxTopics = 20

// GitHub queries repository facts through the GraphQL API.
type GitHub struct {
	// Endpoint is overridable for tests.
	Endpoint string

	token   string
	owner   string
	project string
	client  *http.Client
}

// NewGitHub creates a GitHub adapter for owner/project using the given
// bearer token.
func NewGitHub(token, owner, project string) *GitHub {
	return &GitHub{
		Endpoint: DefaultGitHubEndpoint,
		token:    token,
		owner:    owner,
		project:  project,
		client:   httpClient(),
	}
}

// graphql posts a query and returns the raw response body after checking
// the status and top-level GraphQL errors.
func (g *GitHub) graphql(ctx context.Context, query string, variables map[string]interface{}) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, retry.Permanent(err)
	}

	var body []byte
	err = retry.Do(ctx, "github graphql", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+g.token)
		req.Header.Set("Content-Type", "application/json")

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
			return fmt.Errorf("github graphql returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("github graphql returned %d: %s", resp.StatusCode, string(b)))
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if errs := gjson.GetBytes(body, "errors"); errs.Exists() && len(errs.Array()) > 0 {
		output.Warn("github graphql reported errors", "errors", errs.String())
	}
	return body, nil
}

const commitCountQuery = `
query($owner: String!, $name: String!, $rev: GitObjectID!) {
  repository(owner: $owner, name: $name) {
    object(oid: $rev) {
      ... on Commit { history { totalCount } }
    }
  }
}`

// CommitCount returns the ancestor count of revSha via the commit history
// connection.
func (g *GitHub) CommitCount(ctx context.Context, revSha string) (int, error) {
	body, err := g.graphql(ctx, commitCountQuery, map[string]interface{}{
		"owner": g.owner,
		"name":  g.project,
		"rev":   revSha,
	})
	if err != nil {
		return 0, errors.WrapCause(errors.ErrForgeUnavailable, err,
			"querying commit count for %s/%s", g.owner, g.project)
	}

	count := gjson.GetBytes(body, "data.repository.object.history.totalCount")
	if !count.Exists() {
		return 0, errors.Wrap(errors.ErrForgeUnavailable,
			"github did not return a commit history for %s; is the commit pushed?", revSha)
	}
	return int(count.Int()), nil
}

const repoFactsQuery = `
query($owner: String!, $name: String!, $maxTopics: Int!) {
  repository(owner: $owner, name: $name) {
    description
    defaultBranchRef { name }
    licenseInfo { spdxId }
    repositoryTopics(first: $maxTopics) {
      nodes { topic { name } }
    }
  }
}`

// RepoFacts fetches description, topics, license, and default branch.
// A failed query degrades to empty facts; nothing here blocks a release.
func (g *GitHub) RepoFacts(ctx context.Context) (*Facts, error) {
	body, err := g.graphql(ctx, repoFactsQuery, map[string]interface{}{
		"owner":     g.owner,
		"name":      g.project,
		"maxTopics": maxTopics,
	})
	if err != nil {
		output.Warn("could not fetch repository facts from github", "error", err)
		return &Facts{}, nil
	}

	repo := gjson.GetBytes(body, "data.repository")
	facts := &Facts{
		Description:   repo.Get("description").String(),
		DefaultBranch: repo.Get("defaultBranchRef.name").String(),
		LicenseSpdx:   repo.Get("licenseInfo.spdxId").String(),
	}
	for _, node := range repo.Get("repositoryTopics.nodes").Array() {
		if topic := node.Get("topic.name").String(); topic != "" {
			facts.Topics = append(facts.Topics, topic)
		}
	}
	return facts, nil
}

const tagQuery = `
query($owner: String!, $name: String!, $tag: String!) {
  repository(owner: $owner, name: $name) {
    ref(qualifiedName: $tag) {
      target {
        oid
        ... on Tag { target { oid } }
      }
    }
  }
}`

// RevisionOfTag resolves a tag to the commit it points at, peeling
// annotated tags.
func (g *GitHub) RevisionOfTag(ctx context.Context, tag string) (string, error) {
	body, err := g.graphql(ctx, tagQuery, map[string]interface{}{
		"owner": g.owner,
		"name":  g.project,
		"tag":   "refs/tags/" + tag,
	})
	if err != nil {
		return "", errors.WrapCause(errors.ErrForgeUnavailable, err, "resolving tag %s", tag)
	}

	target := gjson.GetBytes(body, "data.repository.ref.target")
	if !target.Exists() {
		return "", errors.Wrap(errors.ErrForgeUnavailable, "tag %s not found on github", tag)
	}
	if peeled := target.Get("target.oid"); peeled.Exists() {
		return peeled.String(), nil
	}
	return target.Get("oid").String(), nil
}
