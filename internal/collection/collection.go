// Package collection implements the path-prefixed CRUD view over the CRUD
// engine (spec.md §4.5), grounded on the teacher's composition-over-
// inheritance style (no type hierarchy between Storage and higher-level
// wrappers in its storage layer): a Collection holds a non-owning reference
// to the repository's CRUD engine plus its own normalized path prefix.
package collection

import (
	"context"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/ondisk/gitddb/internal/crud"
	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/serialize"
	"github.com/ondisk/gitddb/internal/types"
	"github.com/ondisk/gitddb/internal/validation"
)

// IDGenerator is the minimal id-generation contract a Collection needs.
type IDGenerator interface{ New() string }

// Collection is (repository, collectionPath): every call forwards to the
// engine with shortId replaced by <collectionPath><shortId>, and every
// returned document has <collectionPath> stripped back off its "_id".
type Collection struct {
	Engine *crud.Engine
	Path   string // normalized, e.g. "users/" or ""
	IDs    IDGenerator
}

// New builds a Collection for path, normalizing it once at construction
// (spec.md §4.5 — collections may nest, e.g. "col01/col02").
func New(engine *crud.Engine, ids IDGenerator, path string) (*Collection, error) {
	norm := validation.NormalizeCollectionPath(path)
	if err := validation.ValidateCollectionPath(norm, engine.Repo.WorkingDir, engine.Ext); err != nil {
		return nil, err
	}
	return &Collection{Engine: engine, Path: norm, IDs: ids}, nil
}

func (c *Collection) strip(fullID string) string {
	return strings.TrimPrefix(fullID, c.Path)
}

// Put upserts doc, generating a short id from doc["_id"] (with the
// collection prefix stripped) if absent/empty.
func (c *Collection) Put(doc types.Document, opts crud.PutOptions) (types.PutResult, error) {
	shortID, err := c.resolveID(doc)
	if err != nil {
		return types.PutResult{}, err
	}
	return c.Engine.Put(c.Path, shortID, doc, opts)
}

// Insert writes doc as a new document, failing if it already exists.
func (c *Collection) Insert(doc types.Document, opts crud.PutOptions) (types.PutResult, error) {
	opts.InsertOrUpdate = "insert"
	return c.Put(doc, opts)
}

// Update overwrites an existing document with doc, failing if it does not
// already exist.
func (c *Collection) Update(doc types.Document, opts crud.PutOptions) (types.PutResult, error) {
	opts.InsertOrUpdate = "update"
	return c.Put(doc, opts)
}

func (c *Collection) resolveID(doc types.Document) (string, error) {
	id := doc.ID()
	if id == "" {
		if c.IDs == nil {
			return "", ddberrors.New(ddberrors.UndefinedDocumentId, "put")
		}
		return c.IDs.New(), nil
	}
	return c.strip(id), nil
}

// PutMany resolves an id for each doc (as Put does) and writes the whole
// batch as a single commit via the engine's bounded-concurrency batch path.
func (c *Collection) PutMany(ctx context.Context, docs []types.Document, opts crud.PutManyOptions) (types.PutResult, error) {
	items := make([]crud.PutItem, len(docs))
	for i, doc := range docs {
		shortID, err := c.resolveID(doc)
		if err != nil {
			return types.PutResult{}, err
		}
		items[i] = crud.PutItem{ShortID: shortID, Doc: doc}
	}
	return c.Engine.PutMany(ctx, c.Path, items, opts)
}

// Delete removes the document named by id (a short id, or a document
// carrying "_id").
func (c *Collection) Delete(idOrDoc any) (types.PutResult, error) {
	var shortID string
	switch v := idOrDoc.(type) {
	case string:
		shortID = c.strip(v)
	case types.Document:
		shortID = c.strip(v.ID())
	default:
		return types.PutResult{}, ddberrors.New(ddberrors.UndefinedDocumentId, "delete")
	}
	return c.Engine.Delete(c.Path, shortID)
}

// Get reads the document named shortID, with the collection prefix
// stripped from its returned "_id".
func (c *Collection) Get(shortID string) (types.Document, error) {
	doc, err := c.Engine.Get(c.Path, shortID)
	if err != nil {
		return nil, err
	}
	doc = doc.Clone()
	doc["_id"] = c.strip(doc.ID())
	return doc, nil
}

// AllDocs returns every non-deleted document under the collection at HEAD,
// with ids in short form (invariant 10).
func (c *Collection) AllDocs() ([]types.Document, error) {
	tree, err := c.Engine.Repo.Tree(strings.TrimSuffix(c.Path, "/"))
	if err != nil {
		return nil, nil // an empty/absent collection has no documents
	}
	var out []types.Document
	walker := tree.Files()
	defer walker.Close()
	for {
		f, err := walker.Next()
		if err != nil {
			break
		}
		if !strings.HasSuffix(f.Name, c.Engine.Ext) {
			continue
		}
		shortID := strings.TrimSuffix(f.Name, c.Engine.Ext)
		if c.Engine.Format != "front-matter" {
			if raw, err := c.Engine.Repo.ReadBlob(c.Path + f.Name); err == nil && serialize.QuickDeleted(raw) {
				continue // tombstoned: skip the full decode via gjson's quick check
			}
		}
		doc, err := c.Get(shortID)
		if err != nil {
			continue
		}
		if doc.Deleted() {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// GetCollections walks the HEAD tree at rootPath, returning one Collection
// per directory entry except the reserved ".gitddb" directory.
func GetCollections(engine *crud.Engine, ids IDGenerator, rootPath string) ([]*Collection, error) {
	norm := validation.NormalizeCollectionPath(rootPath)
	tree, err := engine.Repo.Tree(strings.TrimSuffix(norm, "/"))
	if err != nil {
		return nil, nil
	}
	var out []*Collection
	for _, e := range tree.Entries {
		if e.Mode == filemode.Dir && e.Name != ".gitddb" {
			col, err := New(engine, ids, norm+e.Name+"/")
			if err != nil {
				continue
			}
			out = append(out, col)
		}
	}
	return out, nil
}
