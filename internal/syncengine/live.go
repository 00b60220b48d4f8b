package syncengine

import (
	"context"
	"time"

	"github.com/ondisk/gitddb/internal/types"
)

func (s *Session) fire(kind types.SyncEventKind, result *types.SyncResult, meta types.TaskMetadata, err error) {
	if s.Recorder == nil {
		return
	}
	s.Recorder.Fire(kind, result, meta, err)
}

// emitChangeEvents fires change/localChange/remoteChange exactly once per
// completed sync, in that order, per spec.md §4.7's event ordering.
func (s *Session) emitChangeEvents(result *types.SyncResult, meta types.TaskMetadata) {
	if result == nil {
		return
	}
	if len(result.Changes.Local) > 0 || len(result.Changes.Remote) > 0 {
		s.fire(types.EventChange, result, meta, nil)
	}
	if len(result.Changes.Local) > 0 {
		s.fire(types.EventLocalChange, result, meta, nil)
	}
	if len(result.Changes.Remote) > 0 {
		s.fire(types.EventRemoteChange, result, meta, nil)
	}
}

// StartLive begins the live-mode scheduler (spec.md §4.7): a sync task is
// enqueued every Opts.Interval. Repeated enqueues while one is pending or
// running are canceled by the queue's consecutive-sync skip rule (§4.3).
func (s *Session) StartLive(ctx context.Context) {
	s.mu.Lock()
	if s.liveStop != nil || s.closed {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.liveStop = cancel
	s.liveDone = make(chan struct{})
	s.mu.Unlock()

	interval := s.Opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		defer close(s.liveDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				paused := s.paused
				s.mu.Unlock()
				if paused {
					continue
				}
				s.enqueueLiveSync(runCtx)
			}
		}
	}()
}

func (s *Session) enqueueLiveSync(ctx context.Context) {
	task := &types.Task{
		Label:          types.LabelSync,
		TaskID:         s.Queue.NewTaskId(),
		SyncRemoteName: s.RemoteName,
		Func: func() (any, error) {
			meta := types.TaskMetadata{Label: types.LabelSync}
			return s.TrySync(ctx, meta)
		},
	}
	s.Queue.PushToTaskQueue(task)
}

// Pause suspends the live scheduler without tearing it down; Resume
// restores it. Both are no-ops if live mode was never started.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.liveStop == nil {
		return
	}
	s.paused = true
	s.fire(types.EventPaused, nil, types.TaskMetadata{}, nil)
}

// Resume reactivates a paused live scheduler. A Resume after Cancel (close)
// is ignored, per spec.md §4.7.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.paused {
		return
	}
	s.paused = false
	s.fire(types.EventActive, nil, types.TaskMetadata{}, nil)
}

// Cancel stops the live scheduler permanently.
func (s *Session) Cancel() {
	s.mu.Lock()
	stop := s.liveStop
	done := s.liveDone
	s.liveStop = nil
	s.closed = true
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
}
