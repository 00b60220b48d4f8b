// Package taskqueue implements the single serializer that orders every
// mutating operation against one repository (spec.md §4.3): a
// single-threaded cooperative executor with debounce coalescing of
// redundant put/insert/update writes and skipping of redundant consecutive
// sync/push tasks.
//
// It is grounded on cmd/bd/daemon_event_loop.go's select-loop-over-
// tickers-and-channels shape and the teacher's Debouncer primitive
// (cmd/bd/daemon_watcher.go): a trigger that coalesces while a timer is
// pending, generalized here from one callback to a per-(collectionPath,
// shortName) table plus the consecutive-sync/push skip rule.
package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/idgen"
	"github.com/ondisk/gitddb/internal/types"
)

// tickInterval is the fixed scheduling tick (spec.md §4.3).
const tickInterval = 100 * time.Millisecond

// Statistics counts task completions and cancellations, per label.
type Statistics struct {
	Completed map[types.Label]int
	Cancel    int
}

func newStatistics() Statistics {
	return Statistics{Completed: make(map[types.Label]int)}
}

func (s Statistics) clone() Statistics {
	out := Statistics{Completed: make(map[types.Label]int, len(s.Completed)), Cancel: s.Cancel}
	for k, v := range s.Completed {
		out.Completed[k] = v
	}
	return out
}

// Queue is the repository's single writer: every put/insert/update/delete/
// push/sync task is admitted here and executed one at a time.
type Queue struct {
	log *slog.Logger
	ids *idgen.Generator

	mu      sync.Mutex // guards everything below; the queue's one critical section
	pending []*types.Task
	running *types.Task
	stats   Statistics
	started bool

	cancelRun context.CancelFunc
	done      chan struct{}
}

// New builds a Queue. The queue starts stopped; call Start to begin
// scheduling (spec.md §9, explicit start/stop lifecycle).
func New(log *slog.Logger, ids *idgen.Generator) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{log: log, ids: ids, stats: newStatistics()}
}

// NewTaskId returns the next monotonic task id.
func (q *Queue) NewTaskId() string { return q.ids.New() }

// Start begins the 100ms scheduling tick. Calling Start on an already-
// started queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancelRun = cancel
	q.started = true
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.run(runCtx)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick()
		}
	}
}

// Stop cancels every pending task (invoking its Cancel hook with
// TaskCancel), clears the queue and statistics, and halts scheduling. A
// subsequent Start restores an empty queue.
func (q *Queue) Stop() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.stats = newStatistics()
	cancel := q.cancelRun
	started := q.started
	q.started = false
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started && q.done != nil {
		<-q.done
	}
	for _, t := range pending {
		q.cancelTask(t, ddberrors.New(ddberrors.TaskCancel, string(t.Label)))
	}
}

// PushToTaskQueue enqueues task under the critical section, applying the
// consecutive-sync/push skip rule (spec.md §4.3 step 1). The caller's
// EnqueueCallback, if present, runs after the critical section is
// released.
func (q *Queue) PushToTaskQueue(task *types.Task) {
	task.Prepare()

	q.mu.Lock()
	if task.Label == types.LabelSync || task.Label == types.LabelPush {
		last := q.lastSameRemoteLocked(task)
		if last != nil {
			q.stats.Cancel++
			q.mu.Unlock()
			q.cancelTask(task, ddberrors.New(ddberrors.ConsecutiveSyncSkipped, string(task.Label)))
			q.invokeEnqueueCallback(task)
			return
		}
	}
	task.EnqueueTime = time.Now()
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.invokeEnqueueCallback(task)
}

func (q *Queue) invokeEnqueueCallback(task *types.Task) {
	if task.EnqueueCallback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Debug("enqueueCallback panicked", "recover", r, "taskId", task.TaskID)
		}
	}()
	task.EnqueueCallback(task)
}

// lastSameRemoteLocked returns the last queued task (or the running task if
// the queue is empty) that targets the same remote with the same label, or
// nil. Must be called with q.mu held.
func (q *Queue) lastSameRemoteLocked(task *types.Task) *types.Task {
	if len(q.pending) > 0 {
		last := q.pending[len(q.pending)-1]
		if last.Label == task.Label && last.SyncRemoteName == task.SyncRemoteName {
			return last
		}
		return nil
	}
	if q.running != nil && q.running.Label == task.Label && q.running.SyncRemoteName == task.SyncRemoteName {
		return q.running
	}
	return nil
}

func (q *Queue) cancelTask(t *types.Task, err error) {
	if t.Cancel != nil {
		t.Cancel(err)
	}
	t.Finish(nil, err)
}

// tick runs the scheduling algorithm of spec.md §4.3 once.
func (q *Queue) tick() {
	// Tasks superseded by debounce collapse have their Cancel hook run on
	// this goroutine once the critical section is released.
	var collapsed []*types.Task
	defer func() {
		for _, t := range collapsed {
			q.cancelTask(t, ddberrors.New(ddberrors.TaskCancel, string(t.Label)))
		}
	}()

	q.mu.Lock()
	if q.running != nil {
		q.mu.Unlock()
		return
	}

	now := time.Now()
	i := 0
	for i < len(q.pending) {
		head := q.pending[i]

		if head.DebounceTime == nil || *head.DebounceTime < 0 {
			q.dequeueAndRunLocked(i)
			q.mu.Unlock()
			return
		}
		if head.Label != types.LabelPut && head.Label != types.LabelUpdate && head.Label != types.LabelInsert {
			q.dequeueAndRunLocked(i)
			q.mu.Unlock()
			return
		}

		deadline := head.EnqueueTime.Add(*head.DebounceTime)
		superseded := false
		for j := i + 1; j < len(q.pending); j++ {
			other := q.pending[j]
			if other.EnqueueTime.After(deadline) {
				break
			}
			if other.CollectionPath != head.CollectionPath || other.ShortName != head.ShortName {
				continue
			}
			switch other.Label {
			case types.LabelPut, types.LabelUpdate, types.LabelInsert:
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				q.stats.Cancel++
				collapsed = append(collapsed, head)
				superseded = true
			case types.LabelDelete:
				q.dequeueAndRunLocked(i)
				q.mu.Unlock()
				return
			}
			if superseded {
				break
			}
		}
		if superseded {
			continue
		}

		if !deadline.After(now) {
			q.dequeueAndRunLocked(i)
			q.mu.Unlock()
			return
		}
		i++
	}
	q.mu.Unlock()
}

// dequeueAndRunLocked removes pending[i] and launches it on its own
// goroutine. Must be called with q.mu held; it releases nothing itself.
func (q *Queue) dequeueAndRunLocked(i int) {
	t := q.pending[i]
	q.pending = append(q.pending[:i], q.pending[i+1:]...)
	q.running = t
	go q.execute(t)
}

func (q *Queue) execute(t *types.Task) {
	var (
		result any
		err    error
	)
	if t.Func != nil {
		result, err = t.Func()
	}

	q.mu.Lock()
	q.running = nil
	q.stats.Completed[t.Label]++
	q.mu.Unlock()

	t.Finish(result, err)
}

// Length returns the number of tasks currently pending (not including any
// task that is running).
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// CurrentStatistics returns a snapshot of completion/cancel counters.
func (q *Queue) CurrentStatistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.clone()
}

// CurrentTaskId returns the id of the task currently running, or "" if the
// queue is idle.
func (q *Queue) CurrentTaskId() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == nil {
		return ""
	}
	return q.running.TaskID
}

// GetEnqueueTime returns the enqueue time most recently stamped by
// PushToTaskQueue for diagnostic/debounce-window test purposes.
func (q *Queue) GetEnqueueTime(taskID string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running != nil && q.running.TaskID == taskID {
		return q.running.EnqueueTime, true
	}
	for _, t := range q.pending {
		if t.TaskID == taskID {
			return t.EnqueueTime, true
		}
	}
	return time.Time{}, false
}

// WaitCompletion polls every 100ms until the queue is empty and idle, or
// timeout elapses. It returns true if the wait timed out.
func (q *Queue) WaitCompletion(timeout time.Duration) (timedOut bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && q.running == nil
		q.mu.Unlock()
		if idle {
			return false
		}
		if timeout > 0 && time.Now().After(deadline) {
			return true
		}
		time.Sleep(tickInterval)
	}
}
