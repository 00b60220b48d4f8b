package gitddb

import (
	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/syncengine"
	"github.com/ondisk/gitddb/internal/types"
)

func (db *Database) session(remoteName string, opts SyncOptions) (*syncengine.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s, ok := db.sessions[remoteName]; ok {
		return s, nil
	}
	s, err := syncengine.New(db.repo, remoteName, opts, db.recorder, db.queue)
	if err != nil {
		return nil, err
	}
	db.sessions[remoteName] = s
	if opts.Live {
		s.StartLive(db.runCtx)
	}
	return s, nil
}

// Sync runs trySync once over remoteName, serialized through the task
// queue. If opts.Live is set, a live scheduler is started (or left running)
// for subsequent background syncs.
func (db *Database) Sync(remoteName string, opts SyncOptions) (*SyncResult, error) {
	s, err := db.session(remoteName, opts)
	if err != nil {
		return nil, err
	}
	v, err := db.enqueueSyncTask(types.LabelSync, remoteName, func() (any, error) {
		return s.TrySync(db.runCtx, types.TaskMetadata{Label: types.LabelSync})
	})
	if err != nil {
		return nil, err
	}
	return asSyncResult(v), nil
}

// Push restricts Sync to the push half (spec.md §4.7's tryPush).
func (db *Database) Push(remoteName string, opts SyncOptions) (*SyncResult, error) {
	s, err := db.session(remoteName, opts)
	if err != nil {
		return nil, err
	}
	v, err := db.enqueueSyncTask(types.LabelPush, remoteName, func() (any, error) {
		return s.TryPush(db.runCtx, types.TaskMetadata{Label: types.LabelPush})
	})
	if err != nil {
		return nil, err
	}
	return asSyncResult(v), nil
}

func asSyncResult(v any) *SyncResult {
	if v == nil {
		return nil
	}
	r, _ := v.(*SyncResult)
	return r
}

func (db *Database) enqueueSyncTask(label types.Label, remoteName string, fn func() (any, error)) (any, error) {
	task := &types.Task{
		Label:          label,
		TaskID:         db.queue.NewTaskId(),
		SyncRemoteName: remoteName,
		Func:           fn,
	}
	db.queue.PushToTaskQueue(task)
	return task.Wait()
}

// PauseSync suspends remoteName's live scheduler without tearing it down.
func (db *Database) PauseSync(remoteName string) error {
	s, ok := db.lookupSession(remoteName)
	if !ok {
		return ddberrors.New(ddberrors.UndefinedSync, "pauseSync")
	}
	s.Pause()
	return nil
}

// ResumeSync reactivates a paused live scheduler. Ignored if the database
// has been closed.
func (db *Database) ResumeSync(remoteName string) error {
	s, ok := db.lookupSession(remoteName)
	if !ok {
		return ddberrors.New(ddberrors.UndefinedSync, "resumeSync")
	}
	s.Resume()
	return nil
}

// CancelSync stops remoteName's live scheduler permanently.
func (db *Database) CancelSync(remoteName string) error {
	s, ok := db.lookupSession(remoteName)
	if !ok {
		return ddberrors.New(ddberrors.UndefinedSync, "cancelSync")
	}
	s.Cancel()
	return nil
}

func (db *Database) lookupSession(remoteName string) (*syncengine.Session, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.sessions[remoteName]
	return s, ok
}

// OnSyncEvent registers handler for kind on every sync session (spec.md
// §6's onSyncEvent). remoteURL is accepted for interface parity but events
// are dispatched through the database's single recorder; a session-scoped
// remoteURL filter can be implemented by the handler itself via
// TaskMetadata.
func (db *Database) OnSyncEvent(_ string, kind SyncEventKind, handler func(*SyncResult, TaskMetadata, error)) {
	db.recorder.On(kind, handler)
}

// OffSyncEvent removes every handler registered for kind.
func (db *Database) OffSyncEvent(_ string, kind SyncEventKind) {
	db.recorder.Off(kind)
}
