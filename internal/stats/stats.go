// Package stats implements component J, Statistics & events: counters
// mirroring the task queue's per-label completion/cancel counts, plus
// hookable lifecycle callbacks for sync events. It is grounded on
// internal/audit/audit.go's append-only JSONL event log (bufio writer,
// encoding/json with HTML escaping disabled, one JSON object per line) here
// repurposed from LLM/tool-call interaction records to sync conflict
// records, and on github.com/dustin/go-humanize for human-readable
// formatting of the counters.
package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ondisk/gitddb/internal/taskqueue"
	"github.com/ondisk/gitddb/internal/types"
)

// ConflictLogFile is the append-only record of conflicts resolved during
// sync, stored under .gitddb/ alongside info.json.
const ConflictLogFile = ".gitddb/conflicts.jsonl"

// ConflictEntry is one line of the conflict log.
type ConflictEntry struct {
	At        time.Time           `json:"at"`
	ID        string               `json:"id"`
	Strategy  types.ConflictResolution `json:"strategy"`
	Operation types.Label          `json:"operation"`
}

// Handler is a subscriber callback for one sync event kind.
type Handler func(result *types.SyncResult, meta types.TaskMetadata, err error)

// Recorder dispatches sync lifecycle events through the event handler
// table named in spec.md §3 ("Sync session... handler table") and appends
// to the conflict log.
type Recorder struct {
	workingDir string

	mu       sync.Mutex
	handlers map[types.SyncEventKind][]Handler
}

// New builds a Recorder rooted at workingDir (used only for the conflict
// log path).
func New(workingDir string) *Recorder {
	return &Recorder{workingDir: workingDir, handlers: make(map[types.SyncEventKind][]Handler)}
}

// On registers handler for kind (spec.md §6, onSyncEvent).
func (r *Recorder) On(kind types.SyncEventKind, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], handler)
}

// Off removes every handler registered for kind.
func (r *Recorder) Off(kind types.SyncEventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// Fire dispatches kind to every registered handler, in registration order.
func (r *Recorder) Fire(kind types.SyncEventKind, result *types.SyncResult, meta types.TaskMetadata, err error) {
	r.mu.Lock()
	hs := append([]Handler(nil), r.handlers[kind]...)
	r.mu.Unlock()
	for _, h := range hs {
		h(result, meta, err)
	}
}

// LogConflicts appends one ConflictEntry per resolved conflict to
// .gitddb/conflicts.jsonl, matching audit.Append's open-append-flush
// discipline.
func (r *Recorder) LogConflicts(conflicts []types.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	path := filepath.Join(r.workingDir, ConflictLogFile)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create .gitddb directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open conflict log: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	now := time.Now().UTC()
	for _, c := range conflicts {
		entry := ConflictEntry{At: now, ID: c.ID, Strategy: c.Strategy, Operation: c.Operation}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("write conflict log entry: %w", err)
		}
	}
	return bw.Flush()
}

// Summary is a human-readable rendering of a taskqueue.Statistics snapshot,
// for the CLI's "stats" subcommand and for log lines.
func Summary(s taskqueue.Statistics) string {
	out := fmt.Sprintf("cancel=%s", humanize.Comma(int64(s.Cancel)))
	for label, count := range s.Completed {
		out += fmt.Sprintf(" %s=%s", label, humanize.Comma(int64(count)))
	}
	return out
}
