// Package gitstore: the Git plumbing primitives spec.md §4.7 assumes as
// "available from a library" — fetch, resolveRef, readCommit,
// listCommitsBetween, diffTrees, push — implemented here with
// github.com/go-git/go-git/v5 so the sync engine never shells out.
package gitstore

import (
	"context"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/types"
)

// remoteTrackingRef is the ref go-git updates on fetch for remote's default
// branch, standing in for spec.md's FETCH_HEAD.
func remoteTrackingRef(remoteName string) plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(remoteName, DefaultBranch)
}

// buildAuth translates types.AuthOptions into a go-git transport.AuthMethod.
func buildAuth(remoteURL string, auth types.AuthOptions) (transport.AuthMethod, error) {
	switch auth.Type {
	case "", "none":
		return nil, nil
	case "token":
		return &http.BasicAuth{Username: orDefault(auth.Username, "x-access-token"), Password: auth.PersonalAccessToken}, nil
	case "ssh":
		return ssh.NewPublicKeysFromFile("git", auth.SSHKeyPath, "")
	default:
		return nil, fmt.Errorf("unsupported auth type %q", auth.Type)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Fetch fetches remoteName's default branch into its remote-tracking ref.
// A "remote is up to date" error is treated as success.
func (r *Repository) Fetch(ctx context.Context, remoteName string, auth types.AuthOptions) error {
	authMethod, err := buildAuth(remoteName, auth)
	if err != nil {
		return ddberrors.Wrap(ddberrors.UndefinedSync, "fetch", err)
	}
	err = r.repo.FetchContext(ctx, &gogit.FetchOptions{RemoteName: remoteName, Auth: authMethod, Force: true})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return ddberrors.Wrap(ddberrors.UndefinedSync, "fetch", err)
	}
	return nil
}

// RemoteHead resolves remoteName's remote-tracking ref to a commit.
func (r *Repository) RemoteHead(remoteName string) (*object.Commit, error) {
	ref, err := r.repo.Reference(remoteTrackingRef(remoteName), true)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.NoMergeBaseFound, "remoteHead", err)
	}
	return r.repo.CommitObject(ref.Hash())
}

// MergeBase returns the (single, most-recent) common ancestor of a and b,
// or nil if none exists.
func (r *Repository) MergeBase(a, b *object.Commit) (*object.Commit, error) {
	bases, err := a.MergeBase(b)
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return nil, nil
	}
	return bases[0], nil
}

// DiffPaths returns the set of file paths that differ between from and to
// (nil commits are treated as an empty tree), standing in for spec.md's
// diffTrees primitive restricted to path discovery; callers read blob
// content themselves via CommitBlob.
func (r *Repository) DiffPaths(from, to *object.Commit) ([]string, error) {
	fromTree, err := optionalTree(from)
	if err != nil {
		return nil, err
	}
	toTree, err := optionalTree(to)
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var paths []string
	for _, c := range changes {
		p := c.To.Name
		if p == "" {
			p = c.From.Name
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func optionalTree(c *object.Commit) (*object.Tree, error) {
	if c == nil {
		return &object.Tree{}, nil
	}
	return c.Tree()
}

// CommitBlob reads path's content as of commit c, returning ok=false if c
// is nil or the path does not exist in its tree.
func CommitBlob(c *object.Commit, path string) (content []byte, ok bool, err error) {
	if c == nil {
		return nil, false, nil
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, false, err
	}
	f, err := tree.File(path)
	if err != nil {
		return nil, false, nil
	}
	s, err := f.Contents()
	if err != nil {
		return nil, false, err
	}
	return []byte(s), true, nil
}

// FastForward advances the current branch ref to target's hash and checks
// out its tree into the working directory.
func (r *Repository) FastForward(target *object.Commit) error {
	wt, err := r.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: target.Hash, Force: true}); err != nil {
		return err
	}
	head, err := r.repo.Head()
	if err != nil {
		return err
	}
	ref := plumbing.NewHashReference(head.Name(), target.Hash)
	return r.repo.Storer.SetReference(ref)
}

// CommitWithParents writes a commit from the currently staged index with
// explicit parents, used for merge commits (two parents) where
// Worktree.Commit's implicit single-parent behavior does not apply.
func (r *Repository) CommitWithParents(message string, parents []plumbing.Hash) (plumbing.Hash, error) {
	wt, err := r.Worktree()
	if err != nil {
		return plumbing.Hash{}, err
	}
	sig := r.Signature()
	return wt.Commit(message, &gogit.CommitOptions{Author: &sig, Committer: &sig, Parents: parents})
}

// CommitsBetween walks back from to until it reaches from (exclusive),
// implementing spec.md's listCommitsBetween(from, to) primitive. A nil from
// walks to the root commit.
func (r *Repository) CommitsBetween(from, to *object.Commit) ([]*object.Commit, error) {
	if to == nil {
		return nil, nil
	}
	var out []*object.Commit
	cur := to
	for {
		if from != nil && cur.Hash == from.Hash {
			return out, nil
		}
		out = append(out, cur)
		if cur.NumParents() == 0 {
			return out, nil
		}
		parent, err := cur.Parent(0)
		if err != nil {
			return out, nil
		}
		cur = parent
	}
}

// CommitRef builds a types.CommitRef view of a commit for sync results.
func CommitRef(c *object.Commit) types.CommitRef {
	if c == nil {
		return types.CommitRef{}
	}
	var parents []string
	for _, h := range c.ParentHashes {
		parents = append(parents, h.String())
	}
	return types.CommitRef{
		OID:       c.Hash.String(),
		Message:   c.Message,
		Parents:   parents,
		Author:    c.Author.Name,
		Committer: c.Committer.Name,
	}
}

// Push pushes the current branch to remoteName. A rejected non-fast-forward
// push surfaces as CannotPushBecauseUnfetchedCommitExists.
func (r *Repository) Push(ctx context.Context, remoteName string, auth types.AuthOptions) error {
	authMethod, err := buildAuth(remoteName, auth)
	if err != nil {
		return ddberrors.Wrap(ddberrors.UndefinedSync, "push", err)
	}
	err = r.repo.PushContext(ctx, &gogit.PushOptions{RemoteName: remoteName, Auth: authMethod})
	if err == nil || err == gogit.NoErrAlreadyUpToDate {
		return nil
	}
	if err == gogit.ErrNonFastForwardUpdate {
		return ddberrors.New(ddberrors.CannotPushBecauseUnfetchedCommitExists, "push")
	}
	return ddberrors.Wrap(ddberrors.UndefinedSync, "push", err)
}
