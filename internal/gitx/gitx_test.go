package gitx

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeforge/push/internal/errors"
)

func commit(t *testing.T, repo *git.Repository, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)

	sha, err := wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	return sha.String()
}

func TestFromGitRoot(t *testing.T) {
	t.Run("resolves HEAD and the ancestor count", func(t *testing.T) {
		dir := t.TempDir()
		repo, err := git.PlainInit(dir, false)
		require.NoError(t, err)

		commit(t, repo, dir, "first.txt", "one\n")
		second := commit(t, repo, dir, "second.txt", "two\n")

		info, err := FromGitRoot(dir)

		require.NoError(t, err)
		assert.Equal(t, second, info.Revision)
		assert.Equal(t, 2, info.CommitCount)
	})

	t.Run("finds the repository from a subdirectory", func(t *testing.T) {
		dir := t.TempDir()
		repo, err := git.PlainInit(dir, false)
		require.NoError(t, err)
		sha := commit(t, repo, dir, "file.txt", "content\n")

		sub := filepath.Join(dir, "nested", "deeper")
		require.NoError(t, os.MkdirAll(sub, 0o755))

		info, err := FromGitRoot(sub)

		require.NoError(t, err)
		assert.Equal(t, sha, info.Revision)
	})

	t.Run("an unborn repository is an error", func(t *testing.T) {
		dir := t.TempDir()
		_, err := git.PlainInit(dir, false)
		require.NoError(t, err)

		_, err = FromGitRoot(dir)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidInputs)
		assert.Contains(t, err.Error(), "at least one commit")
	})

	t.Run("a directory without a repository is an error", func(t *testing.T) {
		_, err := FromGitRoot(t.TempDir())
		assert.ErrorIs(t, err, errors.ErrInvalidInputs)
	})
}
