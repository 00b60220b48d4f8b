package crud

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/gitstore"
	"github.com/ondisk/gitddb/internal/idgen"
	"github.com/ondisk/gitddb/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	repo, _, err := gitstore.Open(context.Background(), dir, gitstore.OpenOptions{CreateIfNotExists: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return &Engine{Repo: repo, Ext: ".json", IDs: idgen.NewGenerator(nil)}
}

func TestPutInsertsNewDocument(t *testing.T) {
	e := newTestEngine(t)
	doc := types.Document{"title": "hello"}
	res, err := e.Put("notes/", "1", doc, PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.ID != "1" {
		t.Fatalf("expected id 1, got %q", res.ID)
	}

	got, err := e.Get("notes/", "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["title"] != "hello" {
		t.Fatalf("expected title preserved, got %v", got)
	}
	if got.ID() != "notes/1" {
		t.Fatalf("expected _id rewritten to full id, got %q", got.ID())
	}
}

func TestPutSecondCallUpdates(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Put("notes/", "1", types.Document{"title": "v1"}, PutOptions{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := e.Put("notes/", "1", types.Document{"title": "v2"}, PutOptions{}); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, err := e.Get("notes/", "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["title"] != "v2" {
		t.Fatalf("expected updated title, got %v", got["title"])
	}
}

func TestPutInsertForcedFailsIfExists(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Put("notes/", "1", types.Document{"title": "v1"}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, err := e.Put("notes/", "1", types.Document{"title": "v2"}, PutOptions{InsertOrUpdate: "insert"})
	if err == nil {
		t.Fatalf("expected forced insert of an existing id to fail")
	}
	if kind, _ := ddberrors.Of(err); kind != ddberrors.SameIdExists {
		t.Fatalf("expected SameIdExists, got %v", err)
	}
}

func TestPutUpdateForcedFailsIfMissing(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Put("notes/", "1", types.Document{"title": "v1"}, PutOptions{InsertOrUpdate: "update"})
	if err == nil {
		t.Fatalf("expected forced update of a missing id to fail")
	}
	if kind, _ := ddberrors.Of(err); kind != ddberrors.DocumentNotFound {
		t.Fatalf("expected DocumentNotFound, got %v", err)
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Put("notes/", "1", types.Document{"title": "v1"}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := e.Delete("notes/", "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Get("notes/", "1"); err == nil {
		t.Fatalf("expected Get after Delete to fail")
	}
}

func TestDeleteMissingFails(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Delete("notes/", "missing"); err == nil {
		t.Fatalf("expected Delete of a missing document to fail")
	}
}

func TestGetMissingFails(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Get("notes/", "missing"); err == nil {
		t.Fatalf("expected Get of a missing document to fail")
	}
}

func TestInsertDeleteInsertSucceeds(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Put("notes/", "1", types.Document{"title": "v1"}, PutOptions{InsertOrUpdate: "insert"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := e.Delete("notes/", "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Put("notes/", "1", types.Document{"title": "v2"}, PutOptions{InsertOrUpdate: "insert"}); err != nil {
		t.Fatalf("insert after delete should succeed, got %v", err)
	}
}

func TestDeleteRemovesEmptyAncestorDirectories(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Put("notes/deep/nested/", "1", types.Document{"title": "v1"}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := e.Delete("notes/deep/nested/", "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.Repo.WorkingDir, "notes", "deep", "nested")); !os.IsNotExist(err) {
		t.Fatalf("expected emptied ancestor directories to be pruned, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.Repo.WorkingDir, "notes", "deep")); !os.IsNotExist(err) {
		t.Fatalf("expected emptied ancestor directories to be pruned, stat err = %v", err)
	}
}

func TestPutTwiceProducesMultiCommitChainWithLatestBlobOnly(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Put("notes/", "1", types.Document{"title": "v1"}, PutOptions{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := e.Put("notes/", "1", types.Document{"title": "v2"}, PutOptions{}); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := e.Get("notes/", "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["title"] != "v2" {
		t.Fatalf("expected HEAD blob to hold only the latest value, got %v", got["title"])
	}

	commit, err := e.Repo.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	depth := 0
	for c := commit; c != nil; {
		depth++
		parents := c.Parents()
		next, err := parents.Next()
		if err != nil {
			break
		}
		c = next
	}
	if depth < 2 {
		t.Fatalf("expected a commit chain of length >= 2, got %d", depth)
	}
}

func TestPutManyBatchesUnderConcurrencyLimit(t *testing.T) {
	e := newTestEngine(t)
	items := make([]PutItem, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, PutItem{ShortID: string(rune('a' + i)), Doc: types.Document{"n": float64(i)}})
	}
	res, err := e.PutMany(context.Background(), "notes/", items, PutManyOptions{MaxConcurrency: 2})
	if err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	if res.Commit.OID == "" {
		t.Fatalf("expected a commit to be produced")
	}
	for i := 0; i < 10; i++ {
		shortID := string(rune('a' + i))
		got, err := e.Get("notes/", shortID)
		if err != nil {
			t.Fatalf("Get(%s): %v", shortID, err)
		}
		if got["n"] != float64(i) {
			t.Fatalf("Get(%s)[n] = %v, want %v", shortID, got["n"], float64(i))
		}
	}
}

func TestPutManyEmptyIsNoop(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.PutMany(context.Background(), "notes/", nil, PutManyOptions{})
	if err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	if res.Commit.OID != "" {
		t.Fatalf("expected no commit for an empty batch, got %+v", res)
	}
}

func TestPutManyRejectsInvalidID(t *testing.T) {
	e := newTestEngine(t)
	items := []PutItem{
		{ShortID: "1", Doc: types.Document{"title": "ok"}},
		{ShortID: "../escape", Doc: types.Document{"title": "bad"}},
	}
	if _, err := e.PutMany(context.Background(), "notes/", items, PutManyOptions{}); err == nil {
		t.Fatalf("expected PutMany to reject an invalid id")
	}
}

func TestFrontMatterFormatRoundTrips(t *testing.T) {
	dir := t.TempDir()
	repo, _, err := gitstore.Open(context.Background(), dir, gitstore.OpenOptions{CreateIfNotExists: true, Serialize: "front-matter"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()
	e := &Engine{Repo: repo, Ext: ".md", Format: "front-matter", IDs: idgen.NewGenerator(nil)}

	if _, err := e.Put("notes/", "1", types.Document{"title": "hi"}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := e.Get("notes/", "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["title"] != "hi" {
		t.Fatalf("expected title preserved through front-matter round trip, got %v", got["title"])
	}
}
