// Package gitstore implements repository lifecycle (spec.md §4.6): open,
// create, close, destroy, and the .gitddb/info.json metadata file, plus the
// low-level Git blob/tree/commit/ref primitives the CRUD and sync engines
// build on.
//
// It is grounded on internal/daemon/registry.go's atomic-write-via-temp-
// file-then-rename pattern (used here for info.json) and its
// github.com/gofrs/flock-based file locking, used here as the single-writer
// repository lock (SPEC_FULL.md §4.L). Object access uses
// github.com/go-git/go-git/v5 rather than the teacher's os/exec-based git
// CLI shelling, since the CRUD and sync engines need typed oid/tree/commit
// values go-git returns directly.
package gitstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	_ "github.com/go-git/go-git/v5/plumbing/transport/file" // registers the "file" protocol for bare-path remotes
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/idgen"
)

// InfoFile is the path, relative to the working directory, of the
// repository metadata file written at the first commit.
const InfoFile = ".gitddb/info.json"

// DefaultBranch is the single branch gitddb operates on.
const DefaultBranch = "main"

const maxRetries = 3

// Info is the repository metadata recorded at .gitddb/info.json.
type Info struct {
	DbId      string `json:"dbId"`
	Creator   string `json:"creator"`
	Version   string `json:"version"`
	Serialize string `json:"serialize"`
}

// OpenResult classifies the outcome of Open, per spec.md §4.6.
type OpenResult struct {
	Info              Info
	IsNew             bool
	IsCreatedByGitDDB bool
	IsValidVersion    bool
}

// OpenOptions configures Open.
type OpenOptions struct {
	CreateIfNotExists bool
	Creator           string
	Serialize         string
	AuthorName        string
	AuthorEmail       string
}

// Repository is an open Git repository backing one gitddb database.
type Repository struct {
	WorkingDir string
	DBName     string
	AuthorName string
	AuthorEmail string

	repo *gogit.Repository
	lock *flock.Flock

	Info Info
}

// Open opens (or creates) the repository rooted at workingDir.
func Open(ctx context.Context, workingDir string, opts OpenOptions) (*Repository, OpenResult, error) {
	if opts.AuthorName == "" {
		opts.AuthorName = "gitddb"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "gitddb@localhost"
	}
	if opts.Serialize == "" {
		opts.Serialize = "json"
	}

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(workingDir); os.IsNotExist(err) {
			return nil, OpenResult{}, ddberrors.New(ddberrors.RepositoryNotFound, "open")
		}
	}

	lockPath := filepath.Join(workingDir, ".gitddb", "lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0750); err != nil {
		return nil, OpenResult{}, ddberrors.Wrap(ddberrors.CannotCreateDirectory, "open", err)
	}
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, OpenResult{}, ddberrors.Wrap(ddberrors.CannotOpenRepository, "open", err)
	}
	if !locked {
		return nil, OpenResult{}, ddberrors.New(ddberrors.ErrAlreadyLocked, "open")
	}

	repo := &Repository{WorkingDir: workingDir, AuthorName: opts.AuthorName, AuthorEmail: opts.AuthorEmail, lock: fl}

	gitRepo, openErr := gogit.PlainOpen(workingDir)
	switch {
	case openErr == nil:
		empty, err := isEmptyRepo(gitRepo)
		if err != nil {
			_ = fl.Unlock()
			return nil, OpenResult{}, ddberrors.Wrap(ddberrors.CannotOpenRepository, "open", err)
		}
		if empty {
			if !opts.CreateIfNotExists {
				_ = fl.Unlock()
				return nil, OpenResult{}, ddberrors.New(ddberrors.CannotOpenRepository, "open")
			}
			repo.repo = gitRepo
			res, err := repo.initialCommit(opts)
			if err != nil {
				_ = fl.Unlock()
				return nil, OpenResult{}, err
			}
			return repo, res, nil
		}
		repo.repo = gitRepo
		info, err := repo.readInfo()
		if err != nil {
			_ = fl.Unlock()
			return nil, OpenResult{}, err
		}
		if info.DbId == "" {
			info.DbId = idgen.Default.New()
			if err := repo.writeInfo(info); err != nil {
				_ = fl.Unlock()
				return nil, OpenResult{}, err
			}
		}
		repo.Info = info
		return repo, OpenResult{Info: info, IsNew: false, IsCreatedByGitDDB: info.Version != "", IsValidVersion: true}, nil

	case openErr == gogit.ErrRepositoryNotExists:
		if !opts.CreateIfNotExists {
			_ = fl.Unlock()
			return nil, OpenResult{}, ddberrors.New(ddberrors.RepositoryNotFound, "open")
		}
		gitRepo, err := initWithRetry(workingDir)
		if err != nil {
			_ = fl.Unlock()
			return nil, OpenResult{}, ddberrors.Wrap(ddberrors.CannotCreateRepository, "open", err)
		}
		repo.repo = gitRepo
		res, err := repo.initialCommit(opts)
		if err != nil {
			_ = fl.Unlock()
			return nil, OpenResult{}, err
		}
		return repo, res, nil

	default:
		_ = fl.Unlock()
		return nil, OpenResult{}, ddberrors.Wrap(ddberrors.CannotOpenRepository, "open", openErr)
	}
}

func initWithRetry(workingDir string) (*gogit.Repository, error) {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		repo, err := gogit.PlainInitWithOptions(workingDir, &gogit.PlainInitOptions{
			InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch)},
		})
		if err == nil {
			return repo, nil
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return nil, lastErr
}

func isEmptyRepo(repo *gogit.Repository) (bool, error) {
	_, err := repo.Head()
	if err == plumbing.ErrReferenceNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (r *Repository) initialCommit(opts OpenOptions) (OpenResult, error) {
	info := Info{DbId: idgen.Default.New(), Creator: opts.Creator, Version: "1", Serialize: opts.Serialize}
	raw, err := marshalInfo(info)
	if err != nil {
		return OpenResult{}, ddberrors.Wrap(ddberrors.CannotCreateRepository, "open", err)
	}
	if err := r.writeFileAtomic(InfoFile, raw); err != nil {
		return OpenResult{}, err
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return OpenResult{}, ddberrors.Wrap(ddberrors.CannotCreateRepository, "open", err)
	}
	if _, err := wt.Add(InfoFile); err != nil {
		return OpenResult{}, ddberrors.Wrap(ddberrors.CannotCreateRepository, "open", err)
	}
	sig := &object.Signature{Name: r.AuthorName, Email: r.AuthorEmail, When: time.Now()}
	_, err = wt.Commit(fmt.Sprintf("init: %s", InfoFile), &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return OpenResult{}, ddberrors.Wrap(ddberrors.CannotCreateRepository, "open", err)
	}

	r.Info = info
	return OpenResult{Info: info, IsNew: true, IsCreatedByGitDDB: true, IsValidVersion: true}, nil
}

// writeFileAtomic writes relPath under the working directory via a
// temp-file-then-rename, matching internal/daemon/registry.go's pattern for
// crash-safe metadata writes.
func (r *Repository) writeFileAtomic(relPath string, data []byte) error {
	full := filepath.Join(r.WorkingDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return ddberrors.Wrap(ddberrors.CannotCreateDirectory, "writeFileAtomic", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return ddberrors.Wrap(ddberrors.CannotWriteData, "writeFileAtomic", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return ddberrors.Wrap(ddberrors.CannotWriteData, "writeFileAtomic", err)
	}
	return nil
}

func marshalInfo(info Info) ([]byte, error) {
	return json.MarshalIndent(info, "", "  ")
}

func (r *Repository) readInfo() (Info, error) {
	raw, err := os.ReadFile(filepath.Join(r.WorkingDir, InfoFile))
	if err != nil {
		return Info{}, ddberrors.Wrap(ddberrors.CannotOpenRepository, "readInfo", err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, ddberrors.Wrap(ddberrors.CannotOpenRepository, "readInfo", err)
	}
	return info, nil
}

func (r *Repository) writeInfo(info Info) error {
	raw, err := marshalInfo(info)
	if err != nil {
		return ddberrors.Wrap(ddberrors.CannotWriteData, "writeInfo", err)
	}
	if err := r.writeFileAtomic(InfoFile, raw); err != nil {
		return err
	}
	r.Info = info
	return nil
}

// Close releases the repository lock. The caller (the public Database
// type) is responsible for draining the task queue first.
func (r *Repository) Close() error {
	if r.lock != nil {
		return r.lock.Unlock()
	}
	return nil
}

// Destroy closes the repository and recursively deletes its working
// directory.
func (r *Repository) Destroy() error {
	if err := r.Close(); err != nil {
		return ddberrors.Wrap(ddberrors.CannotDeleteData, "destroy", err)
	}
	if err := os.RemoveAll(r.WorkingDir); err != nil {
		return ddberrors.Wrap(ddberrors.CannotDeleteData, "destroy", err)
	}
	return nil
}

// GoGit exposes the underlying *gogit.Repository for callers (crud,
// syncengine) that need lower-level plumbing this package does not wrap.
func (r *Repository) GoGit() *gogit.Repository { return r.repo }

// Worktree returns the repository's worktree.
func (r *Repository) Worktree() (*gogit.Worktree, error) {
	return r.repo.Worktree()
}

// HeadCommit returns the commit HEAD currently points to, or the error from
// resolving HEAD if the repository has no commits yet.
func (r *Repository) HeadCommit() (*object.Commit, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, err
	}
	return r.repo.CommitObject(ref.Hash())
}

// Signature builds a commit signature for "now".
func (r *Repository) Signature() object.Signature {
	return object.Signature{Name: r.AuthorName, Email: r.AuthorEmail, When: time.Now()}
}

// Stage adds relPath to the index, retrying transient filesystem errors up
// to maxRetries times (spec.md §4.4 "Retries"), and returns the staged
// blob's oid.
func (r *Repository) Stage(relPath string) (plumbing.Hash, error) {
	wt, err := r.Worktree()
	if err != nil {
		return plumbing.Hash{}, ddberrors.Wrap(ddberrors.CannotWriteData, "stage", err)
	}
	var (
		hash    plumbing.Hash
		lastErr error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		hash, lastErr = wt.Add(relPath)
		if lastErr == nil {
			return hash, nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return plumbing.Hash{}, ddberrors.Wrap(ddberrors.CannotWriteData, "stage", lastErr)
}

// Unstage removes relPath from the index and working tree.
func (r *Repository) Unstage(relPath string) error {
	wt, err := r.Worktree()
	if err != nil {
		return ddberrors.Wrap(ddberrors.CannotDeleteData, "unstage", err)
	}
	if _, err := wt.Remove(relPath); err != nil {
		return ddberrors.Wrap(ddberrors.CannotDeleteData, "unstage", err)
	}
	return nil
}

// Commit writes a tree from the current index and creates a commit on top
// of HEAD (or as the root commit, if there is none yet).
func (r *Repository) Commit(message string) (plumbing.Hash, error) {
	wt, err := r.Worktree()
	if err != nil {
		return plumbing.Hash{}, ddberrors.Wrap(ddberrors.CannotWriteData, "commit", err)
	}
	sig := r.Signature()
	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		return plumbing.Hash{}, ddberrors.Wrap(ddberrors.CannotWriteData, "commit", err)
	}
	return hash, nil
}

// BlobOID returns the oid of the blob at relPath in the current HEAD tree,
// or ddberrors.DocumentNotFound if absent.
func (r *Repository) BlobOID(relPath string) (plumbing.Hash, error) {
	commit, err := r.HeadCommit()
	if err != nil {
		return plumbing.Hash{}, ddberrors.Wrap(ddberrors.DocumentNotFound, "blobOID", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return plumbing.Hash{}, ddberrors.Wrap(ddberrors.DocumentNotFound, "blobOID", err)
	}
	entry, err := tree.FindEntry(relPath)
	if err != nil {
		return plumbing.Hash{}, ddberrors.New(ddberrors.DocumentNotFound, "blobOID")
	}
	return entry.Hash, nil
}

// ReadBlob returns the content of relPath at the current HEAD tree.
func (r *Repository) ReadBlob(relPath string) ([]byte, error) {
	commit, err := r.HeadCommit()
	if err != nil {
		return nil, ddberrors.New(ddberrors.DocumentNotFound, "readBlob")
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, ddberrors.New(ddberrors.DocumentNotFound, "readBlob")
	}
	f, err := tree.File(relPath)
	if err != nil {
		return nil, ddberrors.New(ddberrors.DocumentNotFound, "readBlob")
	}
	rc, err := f.Blob.Reader()
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.DocumentNotFound, "readBlob", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, ddberrors.Wrap(ddberrors.DocumentNotFound, "readBlob", err)
	}
	return buf.Bytes(), nil
}

// Tree returns the tree at path rootPath of the current HEAD (or the root
// tree if rootPath is empty).
func (r *Repository) Tree(rootPath string) (*object.Tree, error) {
	commit, err := r.HeadCommit()
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	if rootPath == "" {
		return tree, nil
	}
	return tree.Tree(rootPath)
}

// ShortOID returns the first 7 hex characters of h, per spec.md's "short
// oid" glossary entry.
func ShortOID(h plumbing.Hash) string {
	s := h.String()
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

// EnsureRemote adds or updates a remote named name pointing at url.
func (r *Repository) EnsureRemote(name, url string) error {
	_, err := r.repo.Remote(name)
	if err == gogit.ErrRemoteNotFound {
		_, err = r.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
		return err
	}
	return err
}

// InMemoryRepoForTest constructs a throwaway in-memory repository, used by
// package tests that need a *gogit.Repository without touching disk.
func InMemoryRepoForTest() (*gogit.Repository, error) {
	return gogit.Init(memory.NewStorage(), nil)
}
