package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeforge/push/internal/config"
	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/testutil"
)

const testSha = "0123456789abcdef0123456789abcdef01234567"

// fakeNix installs a stand-in evaluator on PATH that answers both the
// metadata and eval invocations.
func fakeNix(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteExecutable(t, dir, "nix", `#!/bin/sh
case "$1" in
  flake)
    cat <<'EOF'
{"description":"a demo flake","url":"file:///src","lastModified":0}
EOF
    ;;
  eval)
    cat <<'EOF'
{"version":1,"docs":{},"inventory":{"packages":{"children":{}},"legacyPackages":{"children":{"x":{"children":{}}}}}}
EOF
    ;;
  *)
    echo "unexpected invocation: $*" >&2
    exit 64
    ;;
esac
`)
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

type fakeHub struct {
	*httptest.Server

	reserveStatus int
	putStatus     int

	reserveCalls atomic.Int32
	putCalls     atomic.Int32
	commitCalls  atomic.Int32

	lastMetadata []byte
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{
		reserveStatus: http.StatusOK,
		putStatus:     http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"token":"hub-token","expiresAt":"2030-01-01T00:00:00Z"}`))
	})
	mux.HandleFunc("POST /upload/acme/widget/", func(w http.ResponseWriter, r *http.Request) {
		h.reserveCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		h.lastMetadata = body

		if h.reserveStatus != http.StatusOK {
			w.WriteHeader(h.reserveStatus)
			_, _ = w.Write([]byte(`"refused"`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"uploadUrl": h.URL + "/stash"})
	})
	mux.HandleFunc("PUT /stash", func(w http.ResponseWriter, _ *http.Request) {
		h.putCalls.Add(1)
		w.WriteHeader(h.putStatus)
	})
	mux.HandleFunc("POST /commit/acme/widget/", func(w http.ResponseWriter, _ *http.Request) {
		h.commitCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"flakeref_exact":    "acme/widget/1.2.3",
			"flakeref_at_least": "acme/widget/1.2",
		})
	})

	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Close)
	return h
}

func testOptions(t *testing.T, hubURL string) *config.Options {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, root, "flake.nix", "{ outputs = _: { }; }\n")
	testutil.WriteFile(t, root, "README.md", "# hi")

	return &config.Options{
		Visibility:       config.VisibilityPublic,
		Repository:       "acme/widget",
		GitRoot:          root,
		Tag:              "v1.2.3",
		Rev:              testSha,
		Host:             hubURL,
		ExecEnv:          config.EnvGeneric,
		EvaluatorTimeout: 30 * time.Second,
		ProcessTimeout:   config.DefaultProcessTimeout,
		SourceSizeCap:    config.DefaultSourceSizeCap,
	}
}

func TestRun(t *testing.T) {
	t.Run("tag mode publishes end to end", func(t *testing.T) {
		fakeNix(t)
		hub := newFakeHub(t)
		t.Setenv("FLAKEFORGE_PUSH_OIDC_TOKEN", "ambient-jwt")
		opts := testOptions(t, hub.URL)
		scratch := t.TempDir()
		t.Setenv("TMPDIR", scratch)

		result, err := Run(context.Background(), opts)

		require.NoError(t, err)
		assert.Equal(t, "acme/widget", result.FlakeName)
		assert.Equal(t, "1.2.3", result.FlakeVersion)
		assert.Equal(t, "acme/widget/1.2.3", result.FlakerefExact)
		assert.Equal(t, "acme/widget/1.2", result.FlakerefAtLeast)

		assert.Equal(t, int32(1), hub.reserveCalls.Load())
		assert.Equal(t, int32(1), hub.putCalls.Load())
		assert.Equal(t, int32(1), hub.commitCalls.Load())

		// Metadata carried the local readme and the evaluator description.
		meta := string(hub.lastMetadata)
		assert.Contains(t, meta, `"readme":"# hi"`)
		assert.Contains(t, meta, `"description":"a demo flake"`)
		assert.Contains(t, meta, `"revision":"`+testSha+`"`)
		assert.Contains(t, meta, `"visibility":"public"`)

		// The scoped scratch directory is gone.
		entries, err := os.ReadDir(scratch)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("an invalid tag never reaches the hub", func(t *testing.T) {
		fakeNix(t)
		hub := newFakeHub(t)
		t.Setenv("FLAKEFORGE_PUSH_OIDC_TOKEN", "ambient-jwt")

		opts := testOptions(t, hub.URL)
		opts.Tag = "1.2.3" // missing the v prefix

		_, err := Run(context.Background(), opts)

		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidInputs)
		assert.Zero(t, hub.reserveCalls.Load())
		assert.Zero(t, hub.putCalls.Load())
	})

	t.Run("a tolerated conflict skips the upload and succeeds", func(t *testing.T) {
		fakeNix(t)
		hub := newFakeHub(t)
		hub.reserveStatus = http.StatusConflict
		t.Setenv("FLAKEFORGE_PUSH_OIDC_TOKEN", "ambient-jwt")

		result, err := Run(context.Background(), testOptions(t, hub.URL))

		require.NoError(t, err)
		assert.Equal(t, "acme/widget", result.FlakeName)
		assert.Equal(t, "1.2.3", result.FlakeVersion)
		assert.Equal(t, "acme/widget/1.2.3", result.FlakerefExact)
		assert.Equal(t, "acme/widget/1.2", result.FlakerefAtLeast)
		assert.Zero(t, hub.putCalls.Load())
		assert.Zero(t, hub.commitCalls.Load())
	})

	t.Run("a conflict is fatal when error-on-conflict is set", func(t *testing.T) {
		fakeNix(t)
		hub := newFakeHub(t)
		hub.reserveStatus = http.StatusConflict
		t.Setenv("FLAKEFORGE_PUSH_OIDC_TOKEN", "ambient-jwt")

		opts := testOptions(t, hub.URL)
		opts.ErrorOnConflict = true

		_, err := Run(context.Background(), opts)
		assert.ErrorIs(t, err, errors.ErrReserveConflict)
	})

	t.Run("an integrity rejection fails before the commit", func(t *testing.T) {
		fakeNix(t)
		hub := newFakeHub(t)
		hub.putStatus = http.StatusPreconditionFailed
		t.Setenv("FLAKEFORGE_PUSH_OIDC_TOKEN", "ambient-jwt")
		opts := testOptions(t, hub.URL)
		scratch := t.TempDir()
		t.Setenv("TMPDIR", scratch)

		_, err := Run(context.Background(), opts)

		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrIntegrityMismatch)
		assert.Zero(t, hub.commitCalls.Load())

		// Failure still removes the scoped scratch directory.
		entries, readErr := os.ReadDir(scratch)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("missing OIDC credentials fail after evaluation", func(t *testing.T) {
		fakeNix(t)
		hub := newFakeHub(t)
		t.Setenv("FLAKEFORGE_PUSH_OIDC_TOKEN", "")

		_, err := Run(context.Background(), testOptions(t, hub.URL))

		assert.ErrorIs(t, err, errors.ErrOidcUnavailable)
		assert.Zero(t, hub.reserveCalls.Load())
	})
}

func TestSynthesizeFlakerefs(t *testing.T) {
	exact, atLeast := synthesizeFlakerefs("acme/widget", "1.2.3")
	assert.Equal(t, "acme/widget/1.2.3", exact)
	assert.Equal(t, "acme/widget/1.2", atLeast)

	exact, atLeast = synthesizeFlakerefs("acme/widget", "0.2.17+rev-"+testSha)
	assert.Equal(t, "acme/widget/0.2.17+rev-"+testSha, exact)
	assert.Equal(t, "acme/widget/0.2", atLeast)
}

func TestCommitCount(t *testing.T) {
	ctx := context.Background()

	t.Run("no sources and required is an error", func(t *testing.T) {
		_, err := commitCount(ctx, nil, nil, testSha, true)
		assert.ErrorIs(t, err, errors.ErrForgeUnavailable)
	})

	t.Run("no sources and best-effort degrades", func(t *testing.T) {
		_, err := commitCount(ctx, nil, nil, testSha, false)
		assert.Error(t, err)
		assert.Nil(t, errors.Kind(err))
	})
}
