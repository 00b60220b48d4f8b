// Package types holds the core data model shared across gitddb's engine:
// documents, tasks, and sync sessions. None of it touches Git or the
// filesystem directly; that belongs to gitstore, crud, and syncengine.
package types

import "time"

// Label is the kind of mutating operation a Task performs.
type Label string

const (
	LabelPut    Label = "put"
	LabelInsert Label = "insert"
	LabelUpdate Label = "update"
	LabelDelete Label = "delete"
	LabelPush   Label = "push"
	LabelSync   Label = "sync"
)

// Document is a mapping from string keys to JSON-compatible values. The
// reserved key "_id" identifies the document; the reserved key "_deleted"
// marks a tombstone. Every other key starting with "_" is rejected by the
// validator before a Document reaches the serializer.
type Document map[string]any

// ID returns the "_id" field as a string, or "" if absent or not a string.
func (d Document) ID() string {
	v, ok := d["_id"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Deleted reports whether the document carries a truthy "_deleted" field.
func (d Document) Deleted() bool {
	v, ok := d["_deleted"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Clone returns a shallow copy of the document, sufficient for the
// validator/serializer's "do not mutate the caller's document" contract.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// FatDoc is the external filename form of a document: <shortId><ext>.
type FatDoc struct {
	ShortID      string
	CollectionID string // <collectionPath><shortId>, written inside the file as _id
	Ext          string
}

// Filename returns <shortId><ext>, the name of the file within its collection.
func (f FatDoc) Filename() string {
	return f.ShortID + f.Ext
}

// Task is the descriptor for a single mutating operation, ordered and
// executed one at a time by the task queue.
type Task struct {
	Label           Label
	TaskID          string // 26-char ULID-like monotonic id
	TargetID        string // shortId the task mutates, when applicable
	CollectionPath  string
	ShortName       string // basename used for debounce grouping
	EnqueueTime     time.Time
	DebounceTime    *time.Duration // nil or negative = no debounce, run as soon as dequeued
	SyncRemoteName  string

	// Func performs the task's work. It is invoked by the queue's single
	// executor goroutine; it must not be called from anywhere else.
	Func func() (any, error)

	// EnqueueCallback, if present, is invoked after the task is admitted
	// to the queue (outside the critical section). Errors are logged,
	// never propagated.
	EnqueueCallback func(*Task)

	// Cancel is invoked synchronously when the task is canceled by
	// debounce collapse, consecutive-sync skip, or queue stop.
	Cancel func(err error)

	result chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// newResultChan prepares the task's result channel; Prepare and Wait call
// it.
func (t *Task) newResultChan() {
	t.result = make(chan taskResult, 1)
}

// Finish delivers the task's outcome to anyone awaiting it via Wait.
func (t *Task) Finish(value any, err error) {
	if t.result == nil {
		return
	}
	t.result <- taskResult{value: value, err: err}
}

// Wait blocks until the task finishes (successfully, with an error, or by
// cancellation) and returns its outcome.
func (t *Task) Wait() (any, error) {
	if t.result == nil {
		t.newResultChan()
	}
	r := <-t.result
	return r.value, r.err
}

// Prepare allocates the task's result channel; callers must invoke this
// exactly once before handing the task to the queue.
func (t *Task) Prepare() {
	t.newResultChan()
}

// SyncDirection controls which side(s) of a sync session actually move data.
type SyncDirection string

const (
	SyncPush SyncDirection = "push"
	SyncPull SyncDirection = "pull"
	SyncBoth SyncDirection = "both"
)

// ConflictResolution names a fixed conflict policy, or "function" when the
// caller supplied a resolver keyed by (shortId, operation).
type ConflictResolution string

const (
	ResolveOurs     ConflictResolution = "ours"
	ResolveTheirs   ConflictResolution = "theirs"
	ResolveFunction ConflictResolution = "function"
)

// ConflictResolver is a caller-supplied strategy function, used when
// ConflictResolution == ResolveFunction.
type ConflictResolver func(shortID string, operation Label) ConflictResolution

// AuthOptions names how the sync session authenticates to its remote.
type AuthOptions struct {
	Type               string // "token", "ssh", "none"
	PersonalAccessToken string
	SSHKeyPath         string
	Username           string
}

// SyncOptions configures a sync session over a single remote.
type SyncOptions struct {
	RemoteURL                 string
	Auth                      AuthOptions
	Live                      bool
	Interval                  time.Duration
	SyncDirection             SyncDirection
	Retry                     int
	RetryInterval             time.Duration
	ConflictResolutionStrategy ConflictResolution
	Resolver                  ConflictResolver
	BehaviorForNoMergeBase    ConflictResolution // reserved: a nil merge base always aborts with NoMergeBaseFound; no value here changes that
}

// SyncEventKind names the lifecycle events a sync session fires.
type SyncEventKind string

const (
	EventChange       SyncEventKind = "change"
	EventLocalChange  SyncEventKind = "localChange"
	EventRemoteChange SyncEventKind = "remoteChange"
	EventPaused       SyncEventKind = "paused"
	EventActive       SyncEventKind = "active"
	EventStart        SyncEventKind = "start"
	EventComplete     SyncEventKind = "complete"
	EventError        SyncEventKind = "error"
)

// TaskMetadata is passed to every sync event handler.
type TaskMetadata struct {
	TaskID      string
	Label       Label
	EnqueueTime time.Time
}

// ChangeOp is the kind of change a diff/merge step produced for one path.
type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// DocChange describes one path's change in a sync result's change list.
type DocChange struct {
	Op  ChangeOp
	ID  string
	Doc Document
}

// Conflict describes one path that required conflict resolution during a
// three-way merge.
type Conflict struct {
	ID        string
	Strategy  ConflictResolution
	Operation Label
}

// SyncAction names the outcome branch trySync took.
type SyncAction string

const (
	ActionNop                     SyncAction = "nop"
	ActionFastForwardMerge        SyncAction = "fast-forward merge"
	ActionPush                    SyncAction = "push"
	ActionMergeAndPush            SyncAction = "merge and push"
	ActionResolveConflictsAndPush SyncAction = "resolve conflicts and push"
	ActionCanceled                SyncAction = "canceled"
)

// CommitRef is the minimal view of a commit the sync engine and CRUD
// engine need to report back to callers.
type CommitRef struct {
	OID       string
	Message   string
	Parents   []string
	Author    string
	Committer string
}

// SyncResult is returned by trySync/tryPush and delivered to change/
// complete event handlers.
type SyncResult struct {
	Action    SyncAction
	Commits   struct{ Local, Remote []CommitRef }
	Changes   struct{ Local, Remote []DocChange }
	Conflicts []Conflict
}

// PutResult is returned by the put/insert/update workers.
type PutResult struct {
	ID      string
	FileOID string
	Commit  CommitRef
}
