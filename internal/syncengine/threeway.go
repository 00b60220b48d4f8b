package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/sourcegraph/conc"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/gitstore"
	"github.com/ondisk/gitddb/internal/serialize"
	"github.com/ondisk/gitddb/internal/types"
)

// documentsEqual reports whether a and b encode the same document content.
// An exact byte match short-circuits; otherwise both sides are decoded and
// compared by structural hash (github.com/mitchellh/hashstructure/v2), so
// re-serialized-but-unchanged documents (differing only in whitespace or
// front-matter key order) don't spuriously read as a conflicting path —
// spec.md §4.7's fast-path equality check ahead of the full three-way merge.
func documentsEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var da, db types.Document
	if json.Unmarshal(a, &da) != nil || json.Unmarshal(b, &db) != nil {
		var errA, errB error
		da, errA = serialize.DecodeFrontMatter(a)
		db, errB = serialize.DecodeFrontMatter(b)
		if errA != nil || errB != nil {
			return false
		}
	}
	ha, err := hashstructure.Hash(da, hashstructure.FormatV2, nil)
	if err != nil {
		return false
	}
	hb, err := hashstructure.Hash(db, hashstructure.FormatV2, nil)
	if err != nil {
		return false
	}
	return ha == hb
}

// pathOutcome is the resolution for one path in the union of base/ours/
// theirs, per spec.md §4.7's case analysis.
type pathOutcome struct {
	path      string
	removed   bool
	content   []byte
	changed   bool // false means the working tree (== ours) already holds the right content
	conflict  bool
	strategy  types.ConflictResolution
	operation types.Label
}

// threeWayMerge implements spec.md §4.7's "neither" branch: merge base,
// local (ours), and remote (theirs), write the result into the working
// tree, create a two-parent merge commit, then push.
func (s *Session) threeWayMerge(ctx context.Context, base, local, remote *object.Commit) (*types.SyncResult, error) {
	ourPaths, err := s.Repo.DiffPaths(base, local)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}
	theirPaths, err := s.Repo.DiffPaths(base, remote)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}
	paths := unionStrings(ourPaths, theirPaths)

	// Each path's resolution only reads from the three immutable commit
	// trees, so it is safe to run concurrently; writes are serialized back
	// onto this single goroutine afterward, before the merge commit is
	// built (SPEC_FULL.md §5).
	outcomes := make([]pathOutcome, len(paths))
	errs := make([]error, len(paths))
	var wg conc.WaitGroup
	for i, p := range paths {
		i, p := i, p
		wg.Go(func() {
			outcomes[i], errs[i] = s.resolvePath(p, base, local, remote)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var conflicts []types.Conflict
	var localChanges, remoteChanges []types.DocChange

	for i, p := range paths {
		outcome := outcomes[i]
		if outcome.conflict {
			conflicts = append(conflicts, types.Conflict{ID: stripDocExt(p), Strategy: outcome.strategy, Operation: outcome.operation})
		}
		if !outcome.changed {
			continue
		}
		if err := s.applyOutcome(outcome); err != nil {
			return nil, err
		}
		change := types.DocChange{ID: stripDocExt(p)}
		if outcome.removed {
			change.Op = types.ChangeDelete
		} else {
			change.Op = types.ChangeUpdate
			change.Doc = decodeDocContent(outcome.content, p)
		}
		localChanges = append(localChanges, change)
		remoteChanges = append(remoteChanges, change)
	}

	if err := s.Recorder.LogConflicts(conflicts); err != nil {
		return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}

	message := "merge"
	if len(conflicts) > 0 {
		var lines []string
		for _, c := range conflicts {
			lines = append(lines, fmt.Sprintf("[resolve conflicts] %s: %s", c.Strategy, c.ID))
		}
		message = strings.Join(lines, "\n")
	}

	hash, err := s.Repo.CommitWithParents(message, []plumbing.Hash{local.Hash, remote.Hash})
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}
	mergeCommit, err := s.Repo.GoGit().CommitObject(hash)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}

	action := types.ActionMergeAndPush
	if len(conflicts) > 0 {
		action = types.ActionResolveConflictsAndPush
	}

	if err := s.Repo.Push(ctx, s.RemoteName, s.Opts.Auth); err != nil {
		return nil, err
	}

	result := &types.SyncResult{Action: action, Conflicts: conflicts}
	result.Changes.Local = localChanges
	result.Changes.Remote = remoteChanges
	result.Commits.Local = []types.CommitRef{gitstore.CommitRef(mergeCommit)}
	result.Commits.Remote = commitsBetweenRefs(s.Repo, base, remote)
	return result, nil
}

// resolvePath classifies one path per the case table of spec.md §4.7; case 4
// (changed on both sides, unequal) and its insert-side symmetric case always
// escalate straight to the fixed conflict policy, with no merge step.
func (s *Session) resolvePath(path string, base, local, remote *object.Commit) (pathOutcome, error) {
	baseContent, baseOK, err := gitstore.CommitBlob(base, path)
	if err != nil {
		return pathOutcome{}, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}
	oursContent, oursOK, err := gitstore.CommitBlob(local, path)
	if err != nil {
		return pathOutcome{}, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}
	theirsContent, theirsOK, err := gitstore.CommitBlob(remote, path)
	if err != nil {
		return pathOutcome{}, ddberrors.Wrap(ddberrors.UndefinedSync, "trySync", err)
	}

	switch {
	case !baseOK && theirsOK && !oursOK:
		// case 1: absent in base, present in theirs only.
		return pathOutcome{path: path, content: theirsContent, changed: true}, nil

	case !baseOK && oursOK && !theirsOK:
		// case 2: absent in base, present in ours only: already correct.
		return pathOutcome{path: path, changed: false}, nil

	case !baseOK && oursOK && theirsOK:
		if documentsEqual(oursContent, theirsContent) {
			return pathOutcome{path: path, changed: false}, nil
		}
		return s.resolveByStrategy(path, oursContent, theirsContent, types.LabelInsert), nil

	case baseOK && !oursOK && !theirsOK:
		return pathOutcome{path: path, changed: false}, nil

	case baseOK && oursOK && !theirsOK:
		if documentsEqual(baseContent, oursContent) {
			// removed in theirs, unchanged in ours: fast-forward the removal.
			return pathOutcome{path: path, removed: true, changed: true}, nil
		}
		// case 11: changed in ours, removed in theirs -> conflict.
		return s.resolveDeletionConflict(path, oursContent, nil, types.LabelUpdate)

	case baseOK && !oursOK && theirsOK:
		if documentsEqual(baseContent, theirsContent) {
			// removed in ours, unchanged in theirs: ours already correct.
			return pathOutcome{path: path, changed: false}, nil
		}
		// case 11 symmetric: removed in ours, changed in theirs -> conflict.
		return s.resolveDeletionConflict(path, nil, theirsContent, types.LabelDelete)

	default: // baseOK && oursOK && theirsOK
		if documentsEqual(oursContent, theirsContent) {
			return pathOutcome{path: path, changed: false}, nil
		}
		if documentsEqual(baseContent, oursContent) {
			return pathOutcome{path: path, content: theirsContent, changed: true}, nil
		}
		if documentsEqual(baseContent, theirsContent) {
			return pathOutcome{path: path, changed: false}, nil
		}
		// case 4: changed on both sides, unequal.
		return s.resolveByStrategy(path, oursContent, theirsContent, types.LabelUpdate), nil
	}
}

// resolveDeletionConflict applies the fixed conflict policy when one side
// removed a path the other side changed (case 11); there is no field-level
// merge of "removed" against "changed".
func (s *Session) resolveDeletionConflict(path string, oursContent, theirsContent []byte, op types.Label) (pathOutcome, error) {
	return s.resolveByStrategy(path, oursContent, theirsContent, op), nil
}

func (s *Session) resolveByStrategy(path string, oursContent, theirsContent []byte, op types.Label) pathOutcome {
	strategy := s.Opts.ConflictResolutionStrategy
	if strategy == types.ResolveFunction && s.Opts.Resolver != nil {
		strategy = s.Opts.Resolver(stripDocExt(path), op)
	}
	if strategy != types.ResolveTheirs {
		strategy = types.ResolveOurs
	}
	out := pathOutcome{path: path, conflict: true, strategy: strategy, operation: op}
	if strategy == types.ResolveOurs {
		if oursContent == nil {
			out.removed = true
			out.changed = true
		} else {
			out.changed = false
		}
		return out
	}
	if theirsContent == nil {
		out.removed = true
		out.changed = true
	} else {
		out.content = theirsContent
		out.changed = true
	}
	return out
}

func (s *Session) applyOutcome(outcome pathOutcome) error {
	full := filepath.Join(s.Repo.WorkingDir, outcome.path)
	if outcome.removed {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return ddberrors.Wrap(ddberrors.CannotDeleteData, "trySync", err)
		}
		return s.Repo.Unstage(outcome.path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return ddberrors.Wrap(ddberrors.CannotCreateDirectory, "trySync", err)
	}
	if err := os.WriteFile(full, outcome.content, 0644); err != nil {
		return ddberrors.Wrap(ddberrors.CannotWriteData, "trySync", err)
	}
	_, err := s.Repo.Stage(outcome.path)
	return err
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
