package stats

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ondisk/gitddb/internal/taskqueue"
	"github.com/ondisk/gitddb/internal/types"
)

func TestOnFireDispatchesInRegistrationOrder(t *testing.T) {
	r := New(t.TempDir())
	var order []int
	r.On(types.EventComplete, func(*types.SyncResult, types.TaskMetadata, error) { order = append(order, 1) })
	r.On(types.EventComplete, func(*types.SyncResult, types.TaskMetadata, error) { order = append(order, 2) })

	r.Fire(types.EventComplete, nil, types.TaskMetadata{}, nil)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers to fire in registration order, got %v", order)
	}
}

func TestOffRemovesAllHandlersForKind(t *testing.T) {
	r := New(t.TempDir())
	fired := false
	r.On(types.EventComplete, func(*types.SyncResult, types.TaskMetadata, error) { fired = true })
	r.Off(types.EventComplete)
	r.Fire(types.EventComplete, nil, types.TaskMetadata{}, nil)
	if fired {
		t.Fatalf("expected no handler to fire after Off")
	}
}

func TestFireWithNoHandlersIsNoop(t *testing.T) {
	r := New(t.TempDir())
	r.Fire(types.EventComplete, nil, types.TaskMetadata{}, nil)
}

func TestLogConflictsAppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	conflicts := []types.Conflict{
		{ID: "1", Strategy: types.ResolveOurs, Operation: types.LabelUpdate},
		{ID: "2", Strategy: types.ResolveTheirs, Operation: types.LabelInsert},
	}
	if err := r.LogConflicts(conflicts); err != nil {
		t.Fatalf("LogConflicts: %v", err)
	}
	if err := r.LogConflicts([]types.Conflict{{ID: "3", Strategy: types.ResolveOurs, Operation: types.LabelDelete}}); err != nil {
		t.Fatalf("second LogConflicts: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, ConflictLogFile))
	if err != nil {
		t.Fatalf("open conflict log: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []ConflictEntry
	for scanner.Scan() {
		var e ConflictEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 appended entries across two calls, got %d", len(entries))
	}
	if entries[0].ID != "1" || entries[2].ID != "3" {
		t.Fatalf("unexpected entry ordering: %+v", entries)
	}
}

func TestLogConflictsEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	if err := r.LogConflicts(nil); err != nil {
		t.Fatalf("LogConflicts(nil): %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ConflictLogFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no conflict log file to be created for an empty batch")
	}
}

func TestSummaryFormatsCounters(t *testing.T) {
	s := taskqueue.Statistics{Completed: map[types.Label]int{types.LabelPut: 1234}, Cancel: 5}
	out := Summary(s)
	if !strings.Contains(out, "cancel=5") {
		t.Fatalf("expected cancel count in summary, got %q", out)
	}
	if !strings.Contains(out, "put=1,234") {
		t.Fatalf("expected humanized put count in summary, got %q", out)
	}
}
