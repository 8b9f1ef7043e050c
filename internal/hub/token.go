// Package hub implements the authenticated release protocol against the
// registry: OIDC token exchange, then reserve → upload → commit.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flakeforge/push/internal/config"
	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
	"github.com/flakeforge/push/internal/retry"
)

// AccessToken is the Hub credential minted for one release. It lives only
// in memory.
type AccessToken struct {
	Token string

	// ExpiresAt is zero when the token endpoint returned a bare string.
	ExpiresAt time.Time
}

// Mint exchanges the runner's ambient OIDC credential for a Hub access
// token scoped to the audience of hubHost. Token acquisition is deferred
// until after evaluation so the short-lived runner JWT is fresh when the
// handshake starts.
func Mint(ctx context.Context, execEnv config.ExecutionEnvironment, hubHost string) (*AccessToken, error) {
	parsed, err := url.Parse(hubHost)
	if err != nil || parsed.Host == "" {
		return nil, errors.Wrap(errors.ErrInvalidInputs,
			"host %q must be a URL with a valid host, like https://api.flakehub.com", hubHost)
	}
	audience := parsed.Hostname()

	idToken, err := runnerIDToken(ctx, execEnv, audience)
	if err != nil {
		return nil, err
	}

	return exchange(ctx, hubHost, idToken)
}

// runnerIDToken obtains the identity token from whichever runner we are on.
func runnerIDToken(ctx context.Context, execEnv config.ExecutionEnvironment, audience string) (string, error) {
	switch execEnv {
	case config.EnvGitHub:
		return githubIDToken(ctx, audience)

	case config.EnvGitLab:
		// GitLab configures the audience at the job level and hands the
		// token over via the environment.
		token := os.Getenv("GITLAB_JWT_ID_TOKEN")
		if token == "" {
			return "", errors.Wrap(errors.ErrOidcUnavailable,
				"no GITLAB_JWT_ID_TOKEN found; configure id_tokens on the job")
		}
		return token, nil

	default:
		token := os.Getenv("FLAKEFORGE_PUSH_OIDC_TOKEN")
		if token == "" {
			return "", errors.Wrap(errors.ErrOidcUnavailable,
				"no FLAKEFORGE_PUSH_OIDC_TOKEN found in the environment")
		}
		return token, nil
	}
}

// githubIDToken requests an Actions ID token with the Hub audience.
func githubIDToken(ctx context.Context, audience string) (string, error) {
	requestToken := os.Getenv("ACTIONS_ID_TOKEN_REQUEST_TOKEN")
	if requestToken == "" {
		return "", errors.Wrap(errors.ErrOidcUnavailable,
			"no ACTIONS_ID_TOKEN_REQUEST_TOKEN found; grant the job `permissions: id-token: write`")
	}
	requestURL := os.Getenv("ACTIONS_ID_TOKEN_REQUEST_URL")
	if requestURL == "" {
		return "", errors.Wrap(errors.ErrOidcUnavailable,
			"ACTIONS_ID_TOKEN_REQUEST_URL is required when ACTIONS_ID_TOKEN_REQUEST_TOKEN is present")
	}

	client := newHTTPClient()
	var idToken string
	err := retry.Do(ctx, "actions id token", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s&audience=%s", requestURL, url.QueryEscape(audience)), nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+requestToken)

		resp, err := client.Do(req)
		if err != nil {
			if retry.RetryableNetErr(err) {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("id token endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("id token endpoint returned %d: %s", resp.StatusCode, string(body)))
		}

		idToken = gjson.GetBytes(body, "value").String()
		if idToken == "" {
			return retry.Permanent(fmt.Errorf("id token response had no `value` field"))
		}
		return nil
	})
	if err != nil {
		return "", errors.WrapCause(errors.ErrOidcUnavailable, err, "getting Actions ID token")
	}
	return idToken, nil
}

// exchange POSTs the ID token to the Hub's token endpoint. Historical
// servers returned a bare JSON string instead of {token, expiresAt}; both
// are accepted.
func exchange(ctx context.Context, hubHost, idToken string) (*AccessToken, error) {
	payload, err := json.Marshal(map[string]string{"token": idToken})
	if err != nil {
		return nil, errors.WrapCause(errors.ErrAuthExchange, err, "encoding token request")
	}

	client := newHTTPClient()
	var token AccessToken
	err = retry.Do(ctx, "hub token exchange", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubHost+"/token", bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if retry.RetryableNetErr(err) {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body)))
		}

		parsed := gjson.ParseBytes(body)
		if parsed.Type == gjson.String {
			token.Token = parsed.String()
			return nil
		}
		token.Token = parsed.Get("token").String()
		if token.Token == "" {
			return retry.Permanent(fmt.Errorf("token response had no `token` field"))
		}
		if expires := parsed.Get("expiresAt"); expires.Exists() {
			if t, err := time.Parse(time.RFC3339, expires.String()); err == nil {
				token.ExpiresAt = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapCause(errors.ErrAuthExchange, err, "exchanging ID token with the hub")
	}

	output.Debug("minted hub access token", "expires_at", token.ExpiresAt)
	return &token, nil
}
