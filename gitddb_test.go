package gitddb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noDebounce() *time.Duration {
	d := -time.Nanosecond
	return &d
}

func boolPtr(b bool) *bool { return &b }

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, _, err := Open(context.Background(), Options{DbName: "test", LocalDir: dir, CreateIfNotExists: boolPtr(true)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(time.Second) })
	return db
}

func TestOpenCreatesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	db, info, err := Open(context.Background(), Options{DbName: "test", LocalDir: dir, CreateIfNotExists: boolPtr(true)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close(time.Second)
	if !info.IsNew || !info.IsCreatedByGitDDB {
		t.Fatalf("expected a fresh gitddb-created repository, got %+v", info)
	}
	if _, err := os.Stat(filepath.Join(dir, "test")); err != nil {
		t.Fatalf("expected working directory to exist: %v", err)
	}
}

func TestOpenWithCreationDisabledFailsOnMissingRepository(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Open(context.Background(), Options{DbName: "test", LocalDir: dir, CreateIfNotExists: boolPtr(false)})
	if err == nil {
		t.Fatalf("expected Open to fail when the repository doesn't exist and creation is disabled")
	}
	if _, err := os.Stat(filepath.Join(dir, "test")); !os.IsNotExist(err) {
		t.Fatalf("expected no working directory to be created, stat err = %v", err)
	}
}

// TestInsertThenUpdate mirrors scenario S1: insert then update resolves to
// the latest value on Get.
func TestInsertThenUpdate(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.Insert(Document{"_id": "1", "name": "a"}, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := db.Update(Document{"_id": "1", "name": "b"}, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := db.Get("1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["name"] != "b" {
		t.Fatalf("expected name=b after update, got %v", got["name"])
	}
}

func TestInsertTwiceFails(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Insert(Document{"_id": "1", "name": "a"}, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := db.Insert(Document{"_id": "1", "name": "b"}, PutOptions{DebounceTime: noDebounce()}); err == nil {
		t.Fatalf("expected second insert of the same id to fail")
	}
}

// TestCollectionRoundTrip mirrors scenario S2: a path-prefixed collection's
// documents carry the full collection-qualified id on disk but the
// collection-relative id through the Collection API.
func TestCollectionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	users, err := db.Collection("users")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if _, err := users.Put(Document{"_id": "u/1", "name": "x"}, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(db.repo.WorkingDir, "users", "u", "1.json"))
	if err != nil {
		t.Fatalf("expected file on disk at users/u/1.json: %v", err)
	}
	if !contains(string(raw), `"_id": "users/u/1"`) {
		t.Fatalf("expected full collection-qualified id in the stored document, got %s", raw)
	}

	got, err := users.Get("u/1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID() != "u/1" {
		t.Fatalf("expected collection-relative id from Get, got %q", got.ID())
	}
	if got["name"] != "x" {
		t.Fatalf("expected name=x, got %v", got["name"])
	}
}

func TestAllDocsAndCollectionsListing(t *testing.T) {
	db := openTestDB(t)
	users, err := db.Collection("users")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if _, err := users.Put(Document{"_id": "1", "name": "a"}, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := users.Put(Document{"_id": "2", "name": "b"}, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, err := users.AllDocs()
	if err != nil {
		t.Fatalf("AllDocs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(all))
	}

	cols, err := db.Collections()
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	found := false
	for _, c := range cols {
		if c.Path() == "users/" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected users/ to be listed among root collections")
	}
}

func TestPutManyOneCommit(t *testing.T) {
	db := openTestDB(t)
	docs := []Document{
		{"_id": "1", "name": "a"},
		{"_id": "2", "name": "b"},
	}
	if _, err := db.PutMany(context.Background(), docs, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	all, err := db.AllDocs()
	if err != nil {
		t.Fatalf("AllDocs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 docs from PutMany, got %d", len(all))
	}
}

func TestStatsSummaryReflectsCompletedPuts(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Put(Document{"_id": "1", "name": "a"}, PutOptions{DebounceTime: noDebounce()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	summary := db.StatsSummary()
	if !contains(summary, "put=1") {
		t.Fatalf("expected put=1 in stats summary, got %q", summary)
	}
}

func TestDestroyRemovesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	db, _, err := Open(context.Background(), Options{DbName: "test", LocalDir: dir, CreateIfNotExists: boolPtr(true)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Destroy(time.Second); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "test")); !os.IsNotExist(err) {
		t.Fatalf("expected working directory to be removed, stat err = %v", err)
	}
}

func contains(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
