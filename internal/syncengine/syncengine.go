// Package syncengine implements component H, the sync state machine
// (spec.md §4.7): fetch, case analysis (nop / fast-forward / push /
// three-way merge), conflict resolution, retry, and live-mode scheduling.
// It is grounded on the teacher's internal/syncbranch precedence-chain
// style for option resolution and on internal/merge/merge.go's three-way
// case analysis (case 1/2/4/11 in that file's Merge3Way), generalized from
// Issue-shaped JSONL records to arbitrary collection-path documents and
// re-expressed over github.com/go-git/go-git/v5 instead of a hand-rolled
// JSONL differ.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/gitstore"
	"github.com/ondisk/gitddb/internal/stats"
	"github.com/ondisk/gitddb/internal/taskqueue"
	"github.com/ondisk/gitddb/internal/types"
)

// Session wraps one remote under trySync/tryPush, mirroring spec.md §4.7's
// "sync session wraps a remote".
type Session struct {
	Repo       *gitstore.Repository
	RemoteName string
	Opts       types.SyncOptions
	Recorder   *stats.Recorder
	Queue      *taskqueue.Queue

	mu        sync.Mutex
	paused    bool
	liveStop  context.CancelFunc
	liveDone  chan struct{}
	closed    bool
}

// New builds a Session over remoteName pointing at opts.RemoteURL, creating
// the remote if it does not already exist.
func New(repo *gitstore.Repository, remoteName string, opts types.SyncOptions, recorder *stats.Recorder, queue *taskqueue.Queue) (*Session, error) {
	if opts.RemoteURL != "" {
		if err := repo.EnsureRemote(remoteName, opts.RemoteURL); err != nil {
			return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "newSession", err)
		}
	}
	if opts.SyncDirection == "" {
		opts.SyncDirection = types.SyncBoth
	}
	if opts.ConflictResolutionStrategy == "" {
		opts.ConflictResolutionStrategy = types.ResolveOurs
	}
	return &Session{Repo: repo, RemoteName: remoteName, Opts: opts, Recorder: recorder, Queue: queue}, nil
}

// TrySync runs the full fetch/case-analysis/merge/push cycle once, serial
// under the queue (the caller is expected to invoke this from inside a
// Task.Func).
func (s *Session) TrySync(ctx context.Context, meta types.TaskMetadata) (*types.SyncResult, error) {
	s.fire(types.EventStart, nil, meta, nil)
	result, err := s.trySyncWithRetry(ctx, meta, s.Opts.Retry)
	if err != nil {
		s.fire(types.EventError, result, meta, err)
		return result, err
	}
	s.emitChangeEvents(result, meta)
	s.fire(types.EventComplete, result, meta, nil)
	return result, nil
}

// TryPush restricts trySync to the push half (spec.md §4.7's tryPush): a
// sync with SyncDirection forced to push-only.
func (s *Session) TryPush(ctx context.Context, meta types.TaskMetadata) (*types.SyncResult, error) {
	pushOpts := s.Opts
	pushOpts.SyncDirection = types.SyncPush
	pushOnly := &Session{Repo: s.Repo, RemoteName: s.RemoteName, Opts: pushOpts, Recorder: s.Recorder, Queue: s.Queue}
	s.fire(types.EventStart, nil, meta, nil)
	result, err := pushOnly.trySyncOnce(ctx, meta)
	if err != nil {
		s.fire(types.EventError, result, meta, err)
		return result, err
	}
	s.emitChangeEvents(result, meta)
	s.fire(types.EventComplete, result, meta, nil)
	return result, nil
}

func (s *Session) trySyncWithRetry(ctx context.Context, meta types.TaskMetadata, retry int) (*types.SyncResult, error) {
	result, err := s.trySyncOnce(ctx, meta)
	kind, isDDB := ddberrors.Of(err)
	for err != nil && isDDB && kind == ddberrors.CannotPushBecauseUnfetchedCommitExists && retry > 0 {
		time.Sleep(s.retryInterval())
		retry--
		result, err = s.trySyncOnce(ctx, meta)
		kind, isDDB = ddberrors.Of(err)
	}
	return result, err
}

func (s *Session) retryInterval() time.Duration {
	if s.Opts.RetryInterval > 0 {
		return s.Opts.RetryInterval
	}
	return time.Second
}

// trySyncOnce implements spec.md §4.7 steps 1-3 plus the three-way merge,
// without retrying a refused push.
func (s *Session) trySyncOnce(ctx context.Context, meta types.TaskMetadata) (*types.SyncResult, error) {
	if err := s.Repo.Fetch(ctx, s.RemoteName, s.Opts.Auth); err != nil {
		return nil, err
	}

	local, err := s.Repo.HeadCommit()
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}
	remote, err := s.Repo.RemoteHead(s.RemoteName)
	if err != nil {
		return nil, err
	}
	base, err := s.Repo.MergeBase(local, remote)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}
	if base == nil {
		return nil, ddberrors.New(ddberrors.NoMergeBaseFound, "trySync")
	}

	result := &types.SyncResult{}

	switch {
	case local.Hash == remote.Hash:
		result.Action = types.ActionNop
		return result, nil

	case base != nil && base.Hash == local.Hash && base.Hash != remote.Hash:
		if s.Opts.SyncDirection == types.SyncPush {
			result.Action = types.ActionNop
			return result, nil
		}
		if err := s.Repo.FastForward(remote); err != nil {
			return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
		}
		result.Action = types.ActionFastForwardMerge
		paths, _ := s.Repo.DiffPaths(local, remote)
		result.Changes.Local = s.changesForPaths(paths, remote)
		result.Commits.Remote = commitsBetweenRefs(s.Repo, local, remote)
		return result, nil

	case base != nil && base.Hash == remote.Hash && base.Hash != local.Hash:
		if s.Opts.SyncDirection == types.SyncPull {
			result.Action = types.ActionNop
			return result, nil
		}
		if err := s.Repo.Push(ctx, s.RemoteName, s.Opts.Auth); err != nil {
			return nil, err
		}
		result.Action = types.ActionPush
		paths, _ := s.Repo.DiffPaths(remote, local)
		result.Changes.Remote = s.changesForPaths(paths, local)
		result.Commits.Local = commitsBetweenRefs(s.Repo, remote, local)
		return result, nil

	default:
		if s.Opts.SyncDirection == types.SyncPush {
			return nil, ddberrors.New(ddberrors.CannotPushBecauseUnfetchedCommitExists, "tryPush")
		}
		return s.threeWayMerge(ctx, base, local, remote)
	}
}

func (s *Session) changesForPaths(paths []string, commit *object.Commit) []types.DocChange {
	var out []types.DocChange
	for _, p := range paths {
		if !isDocPath(p) {
			continue
		}
		content, ok, _ := gitstore.CommitBlob(commit, p)
		op := types.ChangeDelete
		var doc types.Document
		if ok {
			op = types.ChangeUpdate
			doc = decodeDocContent(content, p)
		}
		out = append(out, types.DocChange{Op: op, ID: stripDocExt(p), Doc: doc})
	}
	return out
}

func commitsBetweenRefs(repo *gitstore.Repository, from, to *object.Commit) []types.CommitRef {
	commits, _ := repo.CommitsBetween(from, to)
	var out []types.CommitRef
	for _, c := range commits {
		out = append(out, gitstore.CommitRef(c))
	}
	return out
}
