package gitddb

import (
	"context"
	"strings"
	"time"

	"github.com/ondisk/gitddb/internal/collection"
	"github.com/ondisk/gitddb/internal/config"
	"github.com/ondisk/gitddb/internal/crud"
	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/types"
)

// Collection is a path-prefixed view over a Database's documents. Every
// mutating method is serialized through the database's task queue; Get and
// AllDocs read the HEAD commit tree directly, per spec.md §5's "external code
// may read concurrently" rule.
type Collection struct {
	db    *Database
	inner *collection.Collection
}

// Path returns the collection's normalized path prefix (e.g. "users/").
func (c *Collection) Path() string { return c.inner.Path }

func (c *Collection) debounce(opts PutOptions) *time.Duration {
	if opts.DebounceTime != nil {
		return opts.DebounceTime
	}
	d := config.DefaultDebounceTime()
	return &d
}

func shortNameFor(doc Document) string {
	id := doc.ID()
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func (c *Collection) runMutation(label types.Label, shortName string, opts PutOptions, fn func() (any, error)) (PutResult, error) {
	task := &types.Task{
		Label:           label,
		TaskID:          opts.TaskID,
		CollectionPath:  c.inner.Path,
		ShortName:       shortName,
		DebounceTime:    c.debounce(opts),
		Func:            fn,
	}
	if task.TaskID == "" {
		task.TaskID = c.db.queue.NewTaskId()
	}
	if opts.EnqueueCallback != nil {
		cb := opts.EnqueueCallback
		task.EnqueueCallback = func(t *types.Task) { cb(t.TaskID) }
	}
	c.db.queue.PushToTaskQueue(task)
	result, err := task.Wait()
	if err != nil {
		return PutResult{}, err
	}
	if result == nil {
		return PutResult{}, nil
	}
	return result.(PutResult), nil
}

// Put upserts doc (spec.md §4.4).
func (c *Collection) Put(doc Document, opts PutOptions) (PutResult, error) {
	shortName := shortNameFor(doc)
	return c.runMutation(types.LabelPut, shortName, opts, func() (any, error) {
		return c.inner.Put(doc, crud.PutOptions{CommitMessage: opts.CommitMessage, InsertOrUpdate: opts.InsertOrUpdate})
	})
}

// Insert writes doc as a new document, failing with SameIdExists if it
// already exists.
func (c *Collection) Insert(doc Document, opts PutOptions) (PutResult, error) {
	opts.InsertOrUpdate = "insert"
	shortName := shortNameFor(doc)
	return c.runMutation(types.LabelInsert, shortName, opts, func() (any, error) {
		return c.inner.Insert(doc, crud.PutOptions{CommitMessage: opts.CommitMessage, InsertOrUpdate: "insert"})
	})
}

// Update overwrites an existing document with doc, failing with
// DocumentNotFound if it does not exist.
func (c *Collection) Update(doc Document, opts PutOptions) (PutResult, error) {
	opts.InsertOrUpdate = "update"
	shortName := shortNameFor(doc)
	return c.runMutation(types.LabelUpdate, shortName, opts, func() (any, error) {
		return c.inner.Update(doc, crud.PutOptions{CommitMessage: opts.CommitMessage, InsertOrUpdate: "update"})
	})
}

// PutMany upserts every doc as a single commit, bounding the concurrency of
// the underlying file writes (spec.md §5's single-writer invariant still
// holds: this runs inside one task, on the queue's one executor goroutine).
func (c *Collection) PutMany(ctx context.Context, docs []Document, opts PutOptions) (PutResult, error) {
	return c.runMutation(types.LabelPut, "", opts, func() (any, error) {
		return c.inner.PutMany(ctx, docs, crud.PutManyOptions{CommitMessage: opts.CommitMessage})
	})
}

// Delete removes the document named by idOrDoc (a short id string, or a
// Document carrying "_id").
func (c *Collection) Delete(idOrDoc any) (PutResult, error) {
	var shortName string
	switch v := idOrDoc.(type) {
	case string:
		shortName = v
	case Document:
		shortName = shortNameFor(v)
	default:
		return PutResult{}, ddberrors.New(ddberrors.UndefinedDocumentId, "delete")
	}
	return c.runMutation(types.LabelDelete, shortName, PutOptions{}, func() (any, error) {
		return c.inner.Delete(idOrDoc)
	})
}

// Get reads the document named shortID from the current HEAD tree.
func (c *Collection) Get(shortID string) (Document, error) { return c.inner.Get(shortID) }

// AllDocs returns every non-deleted document under the collection at HEAD.
func (c *Collection) AllDocs() ([]Document, error) { return c.inner.AllDocs() }
