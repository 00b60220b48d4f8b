package crud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/types"
	"github.com/ondisk/gitddb/internal/validation"
)

// PutItem is one document to write in a PutMany batch.
type PutItem struct {
	ShortID string
	Doc     types.Document
}

// PutManyOptions configures PutMany.
type PutManyOptions struct {
	CommitMessage  string
	MaxConcurrency int64 // bounds concurrent file writes; default 4
}

type preparedPut struct {
	filename string
	err      error
}

// PutMany writes every item's canonical bytes to disk with bounded
// concurrency and commits them as a single commit. golang.org/x/sync/
// semaphore bounds how many blob writes the engine issues to the working
// tree at once (SPEC_FULL.md §5 — go-git's object store is not safe for
// unbounded concurrent writers); staging and the commit itself still run
// on the caller's goroutine, one path at a time.
func (e *Engine) PutMany(ctx context.Context, collectionPath string, items []PutItem, opts PutManyOptions) (types.PutResult, error) {
	if len(items) == 0 {
		return types.PutResult{}, nil
	}
	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 4
	}
	sem := semaphore.NewWeighted(maxConc)
	workingDir := e.Repo.WorkingDir

	results := make([]preparedPut, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return types.PutResult{}, ddberrors.Wrap(ddberrors.CannotWriteData, "putMany", err)
		}
		wg.Add(1)
		go func(i int, item PutItem) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.prepareOne(workingDir, collectionPath, item)
		}(i, item)
	}
	wg.Wait()

	var filenames []string
	for _, r := range results {
		if r.err != nil {
			return types.PutResult{}, r.err
		}
		filenames = append(filenames, r.filename)
	}

	var fileOID string
	for _, filename := range filenames {
		oid, err := e.Repo.Stage(filename)
		if err != nil {
			return types.PutResult{}, err
		}
		fileOID = oid.String()
	}

	message := opts.CommitMessage
	if message == "" {
		message = fmt.Sprintf("put: %d documents", len(items))
	}
	hash, err := e.Repo.Commit(message)
	if err != nil {
		return types.PutResult{}, err
	}
	return types.PutResult{
		FileOID: fileOID,
		Commit: types.CommitRef{
			OID:       hash.String(),
			Message:   message,
			Author:    e.Repo.AuthorName,
			Committer: e.Repo.AuthorName,
		},
	}, nil
}

func (e *Engine) prepareOne(workingDir, collectionPath string, item PutItem) preparedPut {
	if err := validation.ValidateId(item.ShortID, workingDir, e.Ext); err != nil {
		return preparedPut{err: err}
	}
	if err := validation.ValidateDocument(item.Doc); err != nil {
		return preparedPut{err: err}
	}

	fullID := collectionPath + item.ShortID
	filename := fullID + e.Ext
	filePath := filepath.Join(workingDir, filename)

	doc := item.Doc.Clone()
	raw, err := e.encode(doc, fullID)
	if err != nil {
		return preparedPut{err: err}
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0750); err != nil {
		return preparedPut{err: ddberrors.Wrap(ddberrors.CannotCreateDirectory, "putMany", err)}
	}
	if err := os.WriteFile(filePath, raw, 0644); err != nil {
		return preparedPut{err: ddberrors.Wrap(ddberrors.CannotWriteData, "putMany", err)}
	}
	return preparedPut{filename: filename}
}
