package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/idgen"
	"github.com/ondisk/gitddb/internal/types"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := New(nil, idgen.NewGenerator(nil))
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func dur(d time.Duration) *time.Duration { return &d }

func runTask(q *Queue, label types.Label, collectionPath, shortName string, debounce *time.Duration, fn func() (any, error)) *types.Task {
	task := &types.Task{
		Label:          label,
		TaskID:         q.NewTaskId(),
		CollectionPath: collectionPath,
		ShortName:      shortName,
		DebounceTime:   debounce,
		Func:           fn,
	}
	q.PushToTaskQueue(task)
	return task
}

func TestFIFOOrdering(t *testing.T) {
	q := newTestQueue(t)

	var order []int
	tasks := make([]*types.Task, 0, 3)
	for i := 0; i < 3; i++ {
		i := i
		tasks = append(tasks, runTask(q, types.LabelInsert, "c/", "x", dur(-1), func() (any, error) {
			order = append(order, i)
			return nil, nil
		}))
	}
	for _, task := range tasks {
		if _, err := task.Wait(); err != nil {
			t.Fatalf("task %s: %v", task.TaskID, err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order %v, got %v", []int{0, 1, 2}, order)
		}
	}
}

func TestDebounceCoalescesSameTarget(t *testing.T) {
	q := newTestQueue(t)

	var runs int
	debounce := dur(200 * time.Millisecond)

	first := runTask(q, types.LabelPut, "c/", "doc1", debounce, func() (any, error) {
		runs++
		return "first", nil
	})
	second := runTask(q, types.LabelPut, "c/", "doc1", debounce, func() (any, error) {
		runs++
		return "second", nil
	})

	if _, err := first.Wait(); err == nil {
		t.Fatalf("expected first put to be canceled by debounce coalescing")
	}
	val, err := second.Wait()
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if val != "second" {
		t.Fatalf("expected second put's result to survive, got %v", val)
	}
	if runs != 1 {
		t.Fatalf("expected exactly one underlying run, got %d", runs)
	}

	stats := q.CurrentStatistics()
	if stats.Cancel != 1 {
		t.Fatalf("expected 1 cancellation recorded, got %d", stats.Cancel)
	}
}

func TestDebounceCoalescesInsertHeadWithFollowingUpdate(t *testing.T) {
	q := newTestQueue(t)

	var runs int
	debounce := dur(200 * time.Millisecond)

	insert := runTask(q, types.LabelInsert, "c/", "doc1", debounce, func() (any, error) {
		runs++
		return "insert", nil
	})
	update := runTask(q, types.LabelUpdate, "c/", "doc1", debounce, func() (any, error) {
		runs++
		return "update", nil
	})

	if _, err := insert.Wait(); err == nil {
		t.Fatalf("expected insert head to be canceled by a coalescing update")
	}
	val, err := update.Wait()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if val != "update" {
		t.Fatalf("expected update's result to survive, got %v", val)
	}
	if runs != 1 {
		t.Fatalf("expected exactly one underlying run, got %d", runs)
	}
}

func TestDebounceDoesNotCoalesceDifferentTargets(t *testing.T) {
	q := newTestQueue(t)
	debounce := dur(200 * time.Millisecond)

	a := runTask(q, types.LabelPut, "c/", "doc1", debounce, func() (any, error) { return "a", nil })
	b := runTask(q, types.LabelPut, "c/", "doc2", debounce, func() (any, error) { return "b", nil })

	va, erra := a.Wait()
	vb, errb := b.Wait()
	if erra != nil || errb != nil {
		t.Fatalf("expected both puts to run independently, got errs %v, %v", erra, errb)
	}
	if va != "a" || vb != "b" {
		t.Fatalf("expected both results to survive, got %v, %v", va, vb)
	}
}

func TestDeleteSupersedesPendingPut(t *testing.T) {
	q := newTestQueue(t)
	debounce := dur(200 * time.Millisecond)

	put := runTask(q, types.LabelPut, "c/", "doc1", debounce, func() (any, error) { return "put", nil })
	del := runTask(q, types.LabelDelete, "c/", "doc1", dur(-1), func() (any, error) { return "delete", nil })

	// The delete forces the head of queue (the debounced put) to run
	// first, unmodified; the put is not canceled by a delete (only
	// put/insert/update can supersede a pending put/insert/update).
	pv, perr := put.Wait()
	dv, derr := del.Wait()
	if perr != nil || derr != nil {
		t.Fatalf("expected both to complete, got errs %v, %v", perr, derr)
	}
	if pv != "put" || dv != "delete" {
		t.Fatalf("unexpected results: put=%v delete=%v", pv, dv)
	}
}

func TestConsecutiveSyncSkipped(t *testing.T) {
	q := newTestQueue(t)

	first := &types.Task{
		Label:          types.LabelSync,
		TaskID:         q.NewTaskId(),
		SyncRemoteName: "origin",
		DebounceTime:   dur(-1),
		Func: func() (any, error) {
			time.Sleep(50 * time.Millisecond)
			return "synced", nil
		},
	}
	q.PushToTaskQueue(first)

	second := &types.Task{
		Label:          types.LabelSync,
		TaskID:         q.NewTaskId(),
		SyncRemoteName: "origin",
		DebounceTime:   dur(-1),
		Func:           func() (any, error) { return "should not run", nil },
	}
	q.PushToTaskQueue(second)

	if _, err := second.Wait(); err == nil {
		t.Fatalf("expected second consecutive sync to be skipped")
	} else if kind, _ := ddberrors.Of(err); kind != ddberrors.ConsecutiveSyncSkipped {
		t.Fatalf("expected ConsecutiveSyncSkipped, got %v", err)
	}

	if _, err := first.Wait(); err != nil {
		t.Fatalf("expected first sync to succeed, got %v", err)
	}

	stats := q.CurrentStatistics()
	if stats.Cancel != 1 {
		t.Fatalf("expected 1 skip recorded, got %d", stats.Cancel)
	}
}

func TestSyncToDifferentRemoteNotSkipped(t *testing.T) {
	q := newTestQueue(t)

	a := &types.Task{
		Label: types.LabelSync, TaskID: q.NewTaskId(), SyncRemoteName: "origin",
		DebounceTime: dur(-1), Func: func() (any, error) { return "a", nil },
	}
	b := &types.Task{
		Label: types.LabelSync, TaskID: q.NewTaskId(), SyncRemoteName: "upstream",
		DebounceTime: dur(-1), Func: func() (any, error) { return "b", nil },
	}
	q.PushToTaskQueue(a)
	q.PushToTaskQueue(b)

	if _, err := a.Wait(); err != nil {
		t.Fatalf("a: %v", err)
	}
	if _, err := b.Wait(); err != nil {
		t.Fatalf("b: %v", err)
	}
}

func TestStopCancelsPending(t *testing.T) {
	q := New(nil, idgen.NewGenerator(nil))
	q.Start(context.Background())

	blocking := make(chan struct{})
	running := &types.Task{
		Label: types.LabelPut, TaskID: q.NewTaskId(), DebounceTime: dur(-1),
		Func: func() (any, error) {
			<-blocking
			return nil, nil
		},
	}
	q.PushToTaskQueue(running)

	// Give the scheduler a tick to pick up the running task.
	time.Sleep(150 * time.Millisecond)

	pending := &types.Task{
		Label: types.LabelPut, TaskID: q.NewTaskId(), DebounceTime: dur(-1),
		Func: func() (any, error) { return nil, nil },
	}
	q.PushToTaskQueue(pending)

	close(blocking)
	q.Stop()

	if _, err := pending.Wait(); err == nil {
		t.Fatalf("expected pending task to be canceled by Stop")
	} else if kind, _ := ddberrors.Of(err); kind != ddberrors.TaskCancel {
		t.Fatalf("expected TaskCancel, got %v", err)
	}
}

func TestWaitCompletionReturnsWhenIdle(t *testing.T) {
	q := newTestQueue(t)
	task := runTask(q, types.LabelPut, "c/", "doc1", dur(-1), func() (any, error) { return nil, nil })
	if _, err := task.Wait(); err != nil {
		t.Fatalf("task: %v", err)
	}
	if timedOut := q.WaitCompletion(time.Second); timedOut {
		t.Fatalf("expected WaitCompletion to report idle, not timeout")
	}
}
