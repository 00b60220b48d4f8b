// Package crud implements put/insert/update/delete/get (spec.md §4.4): the
// transactional path from a validated document to a Git blob + tree +
// commit. It is grounded on the teacher's git-plumbing-via-library posture
// generalized to github.com/go-git/go-git/v5 (internal/gitstore) and on the
// field-level discipline of internal/merge/merge.go's Issue-shaped JSONL
// records, here applied to an arbitrary Document.
package crud

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/gitstore"
	"github.com/ondisk/gitddb/internal/serialize"
	"github.com/ondisk/gitddb/internal/types"
	"github.com/ondisk/gitddb/internal/validation"
)

func decodeDocument(raw []byte) (types.Document, error) {
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Engine performs CRUD operations against one repository. It holds no
// queue of its own: every public method here is meant to be called from
// inside a task's Func, on the queue's single executor goroutine.
type Engine struct {
	Repo   *gitstore.Repository
	Ext    string
	Format string // "" / "json" (default), or "front-matter"
	IDs    interface{ New() string }
}

// encode renders doc in e.Format, rewriting "_id" to fullID. The JSON path
// rewrites "_id" post-encode via serialize.WithID (sjson), leaving the rest
// of the byte layout untouched; the front-matter path promotes "_id" into
// the YAML header directly since the whole document is re-rendered anyway.
func (e *Engine) encode(doc types.Document, fullID string) ([]byte, error) {
	if e.Format == "front-matter" {
		doc["_id"] = fullID
		return serialize.EncodeFrontMatter(doc)
	}
	raw, err := serialize.Canonical(doc)
	if err != nil {
		return nil, err
	}
	return serialize.WithID(raw, fullID)
}

func (e *Engine) decode(raw []byte) (types.Document, error) {
	if e.Format == "front-matter" {
		return serialize.DecodeFrontMatter(raw)
	}
	return decodeDocument(raw)
}

// PutOptions configures put/insert/update.
type PutOptions struct {
	CommitMessage  string
	InsertOrUpdate string // "", "insert", or "update" — forces the effective label
}

// effectiveLabel resolves which of insert/update this call performs, given
// the caller's forced label (if any) and whether a file already exists.
func effectiveLabel(forced string, existed bool) (types.Label, error) {
	switch forced {
	case "insert":
		if existed {
			return "", ddberrors.New(ddberrors.SameIdExists, "put")
		}
		return types.LabelInsert, nil
	case "update":
		if !existed {
			return "", ddberrors.New(ddberrors.DocumentNotFound, "put")
		}
		return types.LabelUpdate, nil
	default:
		if existed {
			return types.LabelUpdate, nil
		}
		return types.LabelInsert, nil
	}
}

// Put performs the put/insert/update worker of spec.md §4.4. collectionPath
// is already normalized; shortID is the id within the collection (not yet
// prefixed). doc is canonicalized and its "_id" rewritten to the full
// collection-prefixed id before being written.
func (e *Engine) Put(collectionPath, shortID string, doc types.Document, opts PutOptions) (types.PutResult, error) {
	workingDir := e.Repo.WorkingDir
	if err := validation.ValidateId(shortID, workingDir, e.Ext); err != nil {
		return types.PutResult{}, err
	}
	if err := validation.ValidateDocument(doc); err != nil {
		return types.PutResult{}, err
	}

	fullID := collectionPath + shortID
	filename := fullID + e.Ext
	filePath := filepath.Join(workingDir, filename)

	doc = doc.Clone()
	raw, err := e.encode(doc, fullID)
	if err != nil {
		return types.PutResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0750); err != nil {
		return types.PutResult{}, ddberrors.Wrap(ddberrors.CannotCreateDirectory, "put", err)
	}

	_, existErr := e.Repo.BlobOID(filename)
	existed := existErr == nil

	label, err := effectiveLabel(opts.InsertOrUpdate, existed)
	if err != nil {
		return types.PutResult{}, err
	}

	if err := os.WriteFile(filePath, raw, 0644); err != nil {
		return types.PutResult{}, ddberrors.Wrap(ddberrors.CannotWriteData, "put", err)
	}

	fileOID, err := e.Repo.Stage(filename)
	if err != nil {
		return types.PutResult{}, err
	}

	message := opts.CommitMessage
	if message == "" {
		message = fmt.Sprintf("%s: %s(%s)", label, filename, gitstore.ShortOID(fileOID))
	}

	hash, err := e.Repo.Commit(message)
	if err != nil {
		return types.PutResult{}, err
	}

	return types.PutResult{
		ID:      shortID,
		FileOID: fileOID.String(),
		Commit: types.CommitRef{
			OID:       hash.String(),
			Message:   message,
			Author:    e.Repo.AuthorName,
			Committer: e.Repo.AuthorName,
		},
	}, nil
}

// Delete removes the document at shortID within collectionPath, pruning
// now-empty ancestor directories, and commits.
func (e *Engine) Delete(collectionPath, shortID string) (types.PutResult, error) {
	workingDir := e.Repo.WorkingDir
	fullID := collectionPath + shortID
	filename := fullID + e.Ext
	filePath := filepath.Join(workingDir, filename)

	priorOID, err := e.Repo.BlobOID(filename)
	if err != nil {
		return types.PutResult{}, ddberrors.New(ddberrors.DocumentNotFound, "delete")
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return types.PutResult{}, ddberrors.Wrap(ddberrors.CannotDeleteData, "delete", err)
	}
	pruneEmptyAncestors(workingDir, filepath.Dir(filePath))

	if err := e.Repo.Unstage(filename); err != nil {
		return types.PutResult{}, err
	}

	message := fmt.Sprintf("delete: %s(%s)", filename, gitstore.ShortOID(priorOID))
	hash, err := e.Repo.Commit(message)
	if err != nil {
		return types.PutResult{}, err
	}

	return types.PutResult{ID: shortID, Commit: types.CommitRef{OID: hash.String(), Message: message}}, nil
}

// Get reads the document at shortID within collectionPath from the current
// HEAD tree.
func (e *Engine) Get(collectionPath, shortID string) (types.Document, error) {
	filename := collectionPath + shortID + e.Ext
	raw, err := e.Repo.ReadBlob(filename)
	if err != nil {
		return nil, ddberrors.New(ddberrors.DocumentNotFound, "get")
	}
	doc, err := e.decode(raw)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.InvalidJsonObject, "get", err)
	}
	return doc, nil
}

// pruneEmptyAncestors removes dir and its ancestors, up to but not
// including workingDir, as long as each is empty after the removal.
func pruneEmptyAncestors(workingDir, dir string) {
	for {
		if dir == workingDir || !strings.HasPrefix(dir, workingDir) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
