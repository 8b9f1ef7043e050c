package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
	"github.com/flakeforge/push/internal/retry"
)

// releaseState tracks the protocol state machine for one release.
type releaseState int

const (
	stateInit releaseState = iota
	stateReserved
	stateUploaded
	stateCommitted
)

const (
	requestTimeout = 60 * time.Second
	connectTimeout = 10 * time.Second

	// uploadAttempts is the tighter budget applied to the tarball PUT.
	uploadAttempts = 3
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	return &http.Client{
		Timeout:   requestTimeout,
		Transport: transport,
	}
}

// Client executes the reserve → upload → commit handshake for a single
// release. At most one release per (owner, project, version) exists within
// a process; the state machine enforces the ordering rules.
type Client struct {
	host    string
	token   string
	owner   string
	project string
	version string

	client *http.Client

	state     releaseState
	uploadURL string
}

// NewClient creates a protocol client for one release identity.
func NewClient(host, token, owner, project, version string) *Client {
	return &Client{
		host:    host,
		token:   token,
		owner:   owner,
		project: project,
		version: version,
		client:  newHTTPClient(),
	}
}

// ReserveResult reports how a reservation ended.
type ReserveResult struct {
	// Conflict is true when the release already existed and the conflict
	// was tolerated; the handshake is then already complete.
	Conflict bool
}

// Reserve POSTs the release metadata and obtains the presigned upload URL.
// A 409 means the release already exists: with errorOnConflict it is fatal,
// otherwise it is idempotent success and no upload may follow.
func (c *Client) Reserve(ctx context.Context, metadata any, length int64, digest string, errorOnConflict bool) (*ReserveResult, error) {
	if c.state != stateInit {
		return nil, errors.Wrap(errors.ErrClient, "reserve attempted twice for %s/%s/%s", c.owner, c.project, c.version)
	}

	body, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.WrapCause(errors.ErrClient, err, "encoding release metadata")
	}

	reserveURL := fmt.Sprintf("%s/upload/%s/%s/%s/%d/%s",
		c.host, c.owner, c.project, c.version, length, url.PathEscape(digest))
	output.Debug("reserving release", "url", reserveURL)

	var result ReserveResult
	err = retry.Do(ctx, "reserve release", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reserveURL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if retry.RetryableNetErr(err) {
				return errors.WrapCause(errors.ErrNetwork, err, "sending release metadata")
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.WrapCause(errors.ErrNetwork, err, "reading reserve response")
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			uploadURL := gjson.GetBytes(respBody, "uploadUrl").String()
			if uploadURL == "" {
				// Historical field name.
				uploadURL = gjson.GetBytes(respBody, "s3_upload_url").String()
			}
			if uploadURL == "" {
				return retry.Permanent(errors.Wrap(errors.ErrServer,
					"reserve response carried no upload URL"))
			}
			c.uploadURL = uploadURL
			c.state = stateReserved
			return nil

		case resp.StatusCode == http.StatusConflict:
			if errorOnConflict {
				return retry.Permanent(errors.Wrap(errors.ErrReserveConflict,
					"%s/%s/%s already exists", c.owner, c.project, c.version))
			}
			output.Info("release already exists; not uploading it again",
				"release", fmt.Sprintf("%s/%s/%s", c.owner, c.project, c.version))
			result.Conflict = true
			c.state = stateCommitted
			return nil

		case retry.RetryableStatus(resp.StatusCode):
			return errors.Wrap(errors.ErrServer, "reserve returned %d: %s", resp.StatusCode, string(respBody))

		default:
			return retry.Permanent(errors.Wrap(errors.ErrClient,
				"reserve returned %d: %s", resp.StatusCode, string(respBody)))
		}
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Upload streams the snapshot to the presigned URL with integrity headers.
// Each retry reopens the file so the stream always restarts at offset 0.
func (c *Client) Upload(ctx context.Context, snapshotPath string, length int64, digest string) error {
	if c.state != stateReserved {
		return errors.Wrap(errors.ErrClient, "upload attempted before a successful reserve")
	}

	err := retry.DoN(ctx, "upload tarball", uploadAttempts, func() error {
		f, err := os.Open(snapshotPath)
		if err != nil {
			return retry.Permanent(errors.WrapCause(errors.ErrSnapshotIO, err, "opening snapshot"))
		}
		defer f.Close()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return retry.Permanent(errors.WrapCause(errors.ErrSnapshotIO, err, "rewinding snapshot"))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.uploadURL, f)
		if err != nil {
			return retry.Permanent(err)
		}
		req.ContentLength = length
		req.Header.Set("Content-Length", strconv.FormatInt(length, 10))
		req.Header.Set("x-amz-checksum-sha256", digest)
		req.Header.Set("Content-Type", "application/gzip")

		resp, err := c.client.Do(req)
		if err != nil {
			if retry.RetryableNetErr(err) {
				return errors.WrapCause(errors.ErrNetwork, err, "sending tarball PUT")
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
			return nil

		case resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusConflict:
			return retry.Permanent(errors.Wrap(errors.ErrIntegrityMismatch,
				"storage rejected the object (status %d): %s", resp.StatusCode, string(respBody)))

		case retry.RetryableStatus(resp.StatusCode):
			return errors.Wrap(errors.ErrServer, "tarball PUT returned %d", resp.StatusCode)

		default:
			return retry.Permanent(errors.Wrap(errors.ErrClient,
				"tarball PUT returned %d: %s", resp.StatusCode, string(respBody)))
		}
	})
	if err != nil {
		return err
	}

	c.state = stateUploaded
	return nil
}

// CommitResult carries the flake references the registry assigned.
type CommitResult struct {
	FlakerefExact   string
	FlakerefAtLeast string
}

// Commit finalizes the release. A 404 means the registry lost the
// reservation between upload and commit.
func (c *Client) Commit(ctx context.Context) (*CommitResult, error) {
	if c.state != stateUploaded {
		return nil, errors.Wrap(errors.ErrClient, "commit attempted before the upload was acknowledged")
	}

	commitURL := fmt.Sprintf("%s/commit/%s/%s/%s", c.host, c.owner, c.project, c.version)
	output.Debug("committing release", "url", commitURL)

	var result CommitResult
	err := retry.Do(ctx, "commit release", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, commitURL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.client.Do(req)
		if err != nil {
			if retry.RetryableNetErr(err) {
				return errors.WrapCause(errors.ErrNetwork, err, "sending commit POST")
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.WrapCause(errors.ErrNetwork, err, "reading commit response")
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			result.FlakerefExact = gjson.GetBytes(respBody, "flakeref_exact").String()
			result.FlakerefAtLeast = gjson.GetBytes(respBody, "flakeref_at_least").String()
			return nil

		case resp.StatusCode == http.StatusNotFound:
			return retry.Permanent(errors.Wrap(errors.ErrReservationLost,
				"the registry no longer knows the reservation for %s/%s/%s", c.owner, c.project, c.version))

		case retry.RetryableStatus(resp.StatusCode):
			return errors.Wrap(errors.ErrServer, "commit returned %d: %s", resp.StatusCode, string(respBody))

		default:
			return retry.Permanent(errors.Wrap(errors.ErrClient,
				"commit returned %d: %s", resp.StatusCode, string(respBody)))
		}
	})
	if err != nil {
		return nil, err
	}

	c.state = stateCommitted
	return &result, nil
}
