package vectorstore

import (
	"database/sql"
	"testing"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreAndSearch(t *testing.T) {
	db := newTestDB(t)
	s := Open(db, 3)

	if err := s.Store(Row{ID: "a1", Text: "alpha", Vector: []float32{1, 0, 0}, Importance: 0.7, CreatedAt: 1}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(Row{ID: "a2", Text: "beta", Vector: []float32{0, 1, 0}, Importance: 0.7, CreatedAt: 2}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	matches := s.Search([]float32{1, 0, 0}, 5, 0)
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].ID != "a1" {
		t.Fatalf("expected a1 as closest match, got %s", matches[0].ID)
	}
}

func TestUpsertReplacesVector(t *testing.T) {
	db := newTestDB(t)
	s := Open(db, 3)

	if err := s.Store(Row{ID: "a1", Text: "alpha", Vector: []float32{1, 0, 0}, CreatedAt: 1}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(Row{ID: "a1", Text: "alpha-v2", Vector: []float32{0, 0, 1}, CreatedAt: 2}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got := s.Count(); got != 1 {
		t.Fatalf("expected 1 row after upsert, got %d", got)
	}
}

func TestHasDuplicate(t *testing.T) {
	db := newTestDB(t)
	s := Open(db, 3)
	if err := s.Store(Row{ID: "a1", Vector: []float32{1, 0, 0}, CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if !s.HasDuplicate([]float32{1, 0, 0}, 0) {
		t.Fatal("expected exact vector to be flagged as duplicate")
	}
	if s.HasDuplicate([]float32{0, 1, 0}, 0.99) {
		t.Fatal("expected orthogonal vector to not be a duplicate")
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	db := newTestDB(t)
	s := Open(db, 3)
	if err := s.Store(Row{ID: "a1", Vector: []float32{1, 0, 0}, CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := s.Count(); got != 0 {
		t.Fatalf("expected 0 rows after delete, got %d", got)
	}
}

func TestDeleteRejectsInvalidID(t *testing.T) {
	db := newTestDB(t)
	s := Open(db, 3)
	if err := s.Delete("'; DROP TABLE vec_meta; --"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}
