// Package gitx reads revision facts from the local working tree.
package gitx

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
)

// RevisionInfo captures the HEAD commit of a checkout.
type RevisionInfo struct {
	// Revision is the full hex SHA of HEAD.
	Revision string

	// CommitCount is the number of ancestors of HEAD including itself,
	// or 0 when the walk failed (shallow clones).
	CommitCount int
}

// FromGitRoot opens the repository at root and resolves HEAD. A newly
// initialized repository without commits is an error: at least one commit
// is necessary to publish.
func FromGitRoot(root string) (*RevisionInfo, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.WrapCause(errors.ErrInvalidInputs, err, "opening the git repository at %s", root)
	}

	head, err := repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil, errors.Wrap(errors.ErrInvalidInputs,
				"newly initialized repository detected, at least one commit is necessary")
		}
		return nil, errors.WrapCause(errors.ErrInvalidInputs, err, "resolving HEAD of the repository at %s", root)
	}

	info := &RevisionInfo{Revision: head.Hash().String()}
	info.CommitCount = countAncestors(repo, head.Hash())

	return info, nil
}

// countAncestors walks the commit graph from the given hash. Shallow
// checkouts cannot produce a full count; they yield 0 and the forge count
// is used instead.
func countAncestors(repo *git.Repository, from plumbing.Hash) int {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		output.Debug("commit walk failed, deferring to forge commit count", "error", err)
		return 0
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil {
		output.Debug("commit walk aborted, deferring to forge commit count", "error", err)
		return 0
	}
	return count
}
