// Package gitddb is a Git-repository-backed, offline-first document
// database: every document is a JSON file in a working tree, every mutation
// is a commit, and replicas converge through fetch/merge/push sync sessions
// with automatic three-way conflict resolution.
//
// The public surface here follows the teacher's beads.go convention: thin
// type aliases over the internal packages that do the actual work
// (internal/gitstore, internal/crud, internal/collection, internal/
// taskqueue, internal/syncengine), plus the Database/Collection types that
// wire them together.
package gitddb

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ondisk/gitddb/internal/collection"
	"github.com/ondisk/gitddb/internal/config"
	"github.com/ondisk/gitddb/internal/crud"
	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/gitstore"
	"github.com/ondisk/gitddb/internal/idgen"
	"github.com/ondisk/gitddb/internal/stats"
	"github.com/ondisk/gitddb/internal/syncengine"
	"github.com/ondisk/gitddb/internal/taskqueue"
	"github.com/ondisk/gitddb/internal/types"
	"github.com/ondisk/gitddb/internal/validation"
)

// Core data types, re-exported from internal/types.
type (
	Document           = types.Document
	Label              = types.Label
	AuthOptions        = types.AuthOptions
	SyncOptions        = types.SyncOptions
	SyncResult         = types.SyncResult
	SyncEventKind      = types.SyncEventKind
	TaskMetadata       = types.TaskMetadata
	ConflictResolution = types.ConflictResolution
	ConflictResolver   = types.ConflictResolver
	PutResult          = types.PutResult
	Conflict           = types.Conflict
	DocChange          = types.DocChange
	SyncDirection      = types.SyncDirection
	SyncAction         = types.SyncAction
)

// Label constants.
const (
	LabelPut    = types.LabelPut
	LabelInsert = types.LabelInsert
	LabelUpdate = types.LabelUpdate
	LabelDelete = types.LabelDelete
	LabelPush   = types.LabelPush
	LabelSync   = types.LabelSync
)

// Sync event kinds.
const (
	EventChange       = types.EventChange
	EventLocalChange  = types.EventLocalChange
	EventRemoteChange = types.EventRemoteChange
	EventPaused       = types.EventPaused
	EventActive       = types.EventActive
	EventStart        = types.EventStart
	EventComplete     = types.EventComplete
	EventError        = types.EventError
)

// Conflict resolution strategies and sync directions.
const (
	ResolveOurs     = types.ResolveOurs
	ResolveTheirs   = types.ResolveTheirs
	ResolveFunction = types.ResolveFunction

	SyncPush = types.SyncPush
	SyncPull = types.SyncPull
	SyncBoth = types.SyncBoth
)

// Error kinds and the Error type, re-exported from internal/ddberrors.
type (
	Error     = ddberrors.Error
	ErrorKind = ddberrors.Kind
)

// PutOptions configures Put/Insert/Update (spec.md §6).
type PutOptions struct {
	CommitMessage   string
	TaskID          string
	EnqueueCallback func(taskID string)
	DebounceTime    *time.Duration
	InsertOrUpdate  string
}

// Options configures Open (spec.md §6's Repository options object).
type Options struct {
	DbName       string
	LocalDir     string
	LogLevel     string
	Serialize    string // "json" (default) or "front-matter"
	DebounceTime time.Duration
	Creator      string
	AuthorName   string
	AuthorEmail  string

	// CreateIfNotExists controls whether Open may create a new repository
	// when none exists at DbName/LocalDir. Defaults to true when left nil;
	// set explicitly to false to require a pre-existing repository.
	CreateIfNotExists *bool
}

// OpenInfo classifies the outcome of Open, per spec.md §4.6.
type OpenInfo = gitstore.OpenResult

func extFor(serialize string) string {
	if serialize == "front-matter" {
		return ".md"
	}
	return ".json"
}

// Database is the top-level handle over one Git repository: a task queue
// serializing every mutation, a default (root) collection, and zero or more
// named sync sessions.
type Database struct {
	repo     *gitstore.Repository
	engine   *crud.Engine
	queue    *taskqueue.Queue
	ids      *idgen.Generator
	recorder *stats.Recorder
	root     *collection.Collection
	log      *slog.Logger
	ext      string

	mu       sync.Mutex
	sessions map[string]*syncengine.Session
	runCtx   context.Context
	runStop  context.CancelFunc
}

// Open opens (creating if allowed and absent) the database named
// opts.DbName under opts.LocalDir, starting its task queue.
func Open(ctx context.Context, opts Options) (*Database, OpenInfo, error) {
	if opts.LocalDir == "" {
		opts.LocalDir = config.DefaultLocalDir()
	}
	if opts.Serialize == "" {
		opts.Serialize = config.DefaultSerialize()
	}
	if opts.DebounceTime == 0 {
		opts.DebounceTime = config.DefaultDebounceTime()
	}
	createIfNotExists := true
	if opts.CreateIfNotExists != nil {
		createIfNotExists = *opts.CreateIfNotExists
	}

	if err := validation.ValidateDbName(opts.DbName); err != nil {
		return nil, OpenInfo{}, err
	}
	if err := validation.ValidateLocalDir(opts.LocalDir); err != nil {
		return nil, OpenInfo{}, err
	}

	workingDir := filepath.Join(opts.LocalDir, opts.DbName)
	repo, openRes, err := gitstore.Open(ctx, workingDir, gitstore.OpenOptions{
		CreateIfNotExists: createIfNotExists,
		Creator:           opts.Creator,
		Serialize:         opts.Serialize,
		AuthorName:        opts.AuthorName,
		AuthorEmail:       opts.AuthorEmail,
	})
	if err != nil {
		return nil, OpenInfo{}, err
	}

	log := slog.Default()
	ids := idgen.NewGenerator(nil)
	queue := taskqueue.New(log, ids)
	engine := &crud.Engine{Repo: repo, Ext: extFor(opts.Serialize), Format: opts.Serialize, IDs: ids}
	root, err := collection.New(engine, ids, "")
	if err != nil {
		return nil, OpenInfo{}, err
	}
	recorder := stats.New(workingDir)

	runCtx, cancel := context.WithCancel(ctx)
	queue.Start(runCtx)

	db := &Database{
		repo: repo, engine: engine, queue: queue, ids: ids,
		recorder: recorder, root: root, log: log, ext: extFor(opts.Serialize),
		sessions: make(map[string]*syncengine.Session),
		runCtx:   runCtx, runStop: cancel,
	}
	return db, openRes, nil
}

// Root returns the database's unprefixed default collection.
func (db *Database) Root() *Collection { return &Collection{db: db, inner: db.root} }

// Collection returns a handle to the path-prefixed collection, which may be
// nested (e.g. "col01/col02").
func (db *Database) Collection(path string) (*Collection, error) {
	c, err := collection.New(db.engine, db.ids, path)
	if err != nil {
		return nil, err
	}
	return &Collection{db: db, inner: c}, nil
}

// Collections lists every collection directly under the database root.
func (db *Database) Collections() ([]*Collection, error) {
	cs, err := collection.GetCollections(db.engine, db.ids, "")
	if err != nil {
		return nil, err
	}
	out := make([]*Collection, len(cs))
	for i, c := range cs {
		out[i] = &Collection{db: db, inner: c}
	}
	return out, nil
}

// Put/Insert/Update/Delete/Get/AllDocs on the root collection.
func (db *Database) Put(doc Document, opts PutOptions) (PutResult, error) {
	return db.Root().Put(doc, opts)
}
func (db *Database) Insert(doc Document, opts PutOptions) (PutResult, error) {
	return db.Root().Insert(doc, opts)
}
func (db *Database) Update(doc Document, opts PutOptions) (PutResult, error) {
	return db.Root().Update(doc, opts)
}
func (db *Database) PutMany(ctx context.Context, docs []Document, opts PutOptions) (PutResult, error) {
	return db.Root().PutMany(ctx, docs, opts)
}
func (db *Database) Delete(idOrDoc any) (PutResult, error) { return db.Root().Delete(idOrDoc) }
func (db *Database) Get(id string) (Document, error)       { return db.Root().Get(id) }
func (db *Database) AllDocs() ([]Document, error)          { return db.Root().AllDocs() }

// Stats returns the queue's current completion/cancellation counters.
func (db *Database) Stats() taskqueue.Statistics { return db.queue.CurrentStatistics() }

// StatsSummary is a human-readable rendering of Stats(), via
// github.com/dustin/go-humanize.
func (db *Database) StatsSummary() string { return stats.Summary(db.Stats()) }

// WaitCompletion blocks until the queue is idle or timeout elapses.
func (db *Database) WaitCompletion(timeout time.Duration) bool { return db.queue.WaitCompletion(timeout) }

// Close stops the task queue after awaiting outstanding work up to timeout,
// cancels every live sync session, and releases the repository lock.
func (db *Database) Close(timeout time.Duration) error {
	db.queue.WaitCompletion(timeout)
	db.mu.Lock()
	sessions := make([]*syncengine.Session, 0, len(db.sessions))
	for _, s := range db.sessions {
		sessions = append(sessions, s)
	}
	db.mu.Unlock()
	for _, s := range sessions {
		s.Cancel()
	}
	db.queue.Stop()
	db.runStop()
	return db.repo.Close()
}

// Destroy closes the database and recursively deletes its working directory.
func (db *Database) Destroy(timeout time.Duration) error {
	if err := db.Close(timeout); err != nil {
		return err
	}
	return db.repo.Destroy()
}
