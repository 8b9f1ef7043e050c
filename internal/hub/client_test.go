package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeforge/push/internal/errors"
)

const (
	testLength = int64(5)
	testDigest = "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="
)

func writeSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "release.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o644))
	return path
}

type hubServer struct {
	*httptest.Server

	reserveStatus int
	putStatus     int
	commitStatus  int

	putCalls    atomic.Int32
	commitCalls atomic.Int32
	putFailures int32
}

// newHubServer fakes the registry: reserve hands back a presigned path on
// the same server, PUT stores nothing, commit returns the flakerefs.
func newHubServer(t *testing.T) *hubServer {
	t.Helper()
	h := &hubServer{
		reserveStatus: http.StatusOK,
		putStatus:     http.StatusOK,
		commitStatus:  http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if h.reserveStatus != http.StatusOK {
			w.WriteHeader(h.reserveStatus)
			_, _ = w.Write([]byte(`"reserve refused"`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"uploadUrl": h.URL + "/presigned/object",
		})
	})
	mux.HandleFunc("PUT /presigned/object", func(w http.ResponseWriter, r *http.Request) {
		call := h.putCalls.Add(1)
		body, _ := io.ReadAll(r.Body)

		assert.Equal(t, testDigest, r.Header.Get("x-amz-checksum-sha256"))
		assert.Equal(t, testLength, r.ContentLength)
		// Every attempt must carry the full payload from offset 0.
		assert.Equal(t, "bytes", string(body))

		if call <= h.putFailures {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(h.putStatus)
	})
	mux.HandleFunc("POST /commit/", func(w http.ResponseWriter, r *http.Request) {
		h.commitCalls.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if h.commitStatus != http.StatusOK {
			w.WriteHeader(h.commitStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"flakeref_exact":    "acme/widget/1.2.3",
			"flakeref_at_least": "acme/widget/1.2",
		})
	})

	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Close)
	return h
}

func newTestClient(h *hubServer) *Client {
	return NewClient(h.URL, "test-token", "acme", "widget", "1.2.3")
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve, upload, commit in order", func(t *testing.T) {
		h := newHubServer(t)
		c := newTestClient(h)

		reserved, err := c.Reserve(ctx, map[string]string{"repo": "acme/widget"}, testLength, testDigest, false)
		require.NoError(t, err)
		assert.False(t, reserved.Conflict)

		require.NoError(t, c.Upload(ctx, writeSnapshot(t), testLength, testDigest))

		committed, err := c.Commit(ctx)
		require.NoError(t, err)
		assert.Equal(t, "acme/widget/1.2.3", committed.FlakerefExact)
		assert.Equal(t, "acme/widget/1.2", committed.FlakerefAtLeast)
	})

	t.Run("tolerated conflict skips the upload", func(t *testing.T) {
		h := newHubServer(t)
		h.reserveStatus = http.StatusConflict
		c := newTestClient(h)

		reserved, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		require.NoError(t, err)
		assert.True(t, reserved.Conflict)

		// The state machine refuses an upload after an idempotent-success
		// reservation.
		err = c.Upload(ctx, writeSnapshot(t), testLength, testDigest)
		assert.Error(t, err)
		assert.Zero(t, h.putCalls.Load())
	})

	t.Run("conflict is fatal when requested", func(t *testing.T) {
		h := newHubServer(t)
		h.reserveStatus = http.StatusConflict
		c := newTestClient(h)

		_, err := c.Reserve(ctx, nil, testLength, testDigest, true)
		assert.ErrorIs(t, err, errors.ErrReserveConflict)
	})

	t.Run("4xx on reserve is a client error and not retried", func(t *testing.T) {
		h := newHubServer(t)
		h.reserveStatus = http.StatusForbidden
		c := newTestClient(h)

		_, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		assert.ErrorIs(t, err, errors.ErrClient)
	})

	t.Run("integrity rejection fails without a commit", func(t *testing.T) {
		h := newHubServer(t)
		h.putStatus = http.StatusPreconditionFailed
		c := newTestClient(h)

		_, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		require.NoError(t, err)

		err = c.Upload(ctx, writeSnapshot(t), testLength, testDigest)
		assert.ErrorIs(t, err, errors.ErrIntegrityMismatch)

		_, err = c.Commit(ctx)
		assert.Error(t, err, "commit must be refused before an acknowledged upload")
		assert.Zero(t, h.commitCalls.Load())
	})

	t.Run("upload retries rewind the stream", func(t *testing.T) {
		h := newHubServer(t)
		h.putFailures = 2
		c := newTestClient(h)

		_, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		require.NoError(t, err)

		require.NoError(t, c.Upload(ctx, writeSnapshot(t), testLength, testDigest))
		assert.Equal(t, int32(3), h.putCalls.Load())
	})

	t.Run("upload gives up after its attempt budget", func(t *testing.T) {
		h := newHubServer(t)
		h.putFailures = 99
		c := newTestClient(h)

		_, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		require.NoError(t, err)

		err = c.Upload(ctx, writeSnapshot(t), testLength, testDigest)
		assert.ErrorIs(t, err, errors.ErrServer)
		assert.Equal(t, int32(uploadAttempts), h.putCalls.Load())
	})

	t.Run("lost reservation on commit", func(t *testing.T) {
		h := newHubServer(t)
		h.commitStatus = http.StatusNotFound
		c := newTestClient(h)

		_, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		require.NoError(t, err)
		require.NoError(t, c.Upload(ctx, writeSnapshot(t), testLength, testDigest))

		_, err = c.Commit(ctx)
		assert.ErrorIs(t, err, errors.ErrReservationLost)
	})

	t.Run("reserve twice is refused", func(t *testing.T) {
		h := newHubServer(t)
		c := newTestClient(h)

		_, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		require.NoError(t, err)

		_, err = c.Reserve(ctx, nil, testLength, testDigest, false)
		assert.Error(t, err)
	})

	t.Run("accepts the historical upload URL field", func(t *testing.T) {
		mux := http.NewServeMux()
		var srv *httptest.Server
		mux.HandleFunc("POST /upload/", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"s3_upload_url": srv.URL + "/legacy/object",
			})
		})
		mux.HandleFunc("PUT /legacy/object", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		srv = httptest.NewServer(mux)
		defer srv.Close()

		c := NewClient(srv.URL, "test-token", "acme", "widget", "1.2.3")
		_, err := c.Reserve(ctx, nil, testLength, testDigest, false)
		require.NoError(t, err)
		require.NoError(t, c.Upload(ctx, writeSnapshot(t), testLength, testDigest))
	})
}
