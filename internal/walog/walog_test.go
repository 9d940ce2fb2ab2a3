package walog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dir := t.TempDir()
	return Open(filepath.Join(dir, "wal.log"))
}

func TestAppendAndReadAll(t *testing.T) {
	l := newTestLog(t)
	e := Entry{ID: "f1", Timestamp: time.Now().UnixMilli(), Operation: OpStore, Payload: json.RawMessage(`{"text":"hi"}`)}
	if err := l.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "f1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestTombstoneExcludesEntry(t *testing.T) {
	l := newTestLog(t)
	e := Entry{ID: "f1", Timestamp: time.Now().UnixMilli(), Operation: OpStore}
	if err := l.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Tombstone("f1"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}

	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected tombstoned entry excluded, got %+v", entries)
	}
}

func TestGetValidEntriesDropsOld(t *testing.T) {
	l := newTestLog(t)
	old := Entry{ID: "old", Timestamp: time.Now().Add(-time.Hour).UnixMilli(), Operation: OpStore}
	fresh := Entry{ID: "fresh", Timestamp: time.Now().UnixMilli(), Operation: OpStore}
	if err := l.Append(old); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(fresh); err != nil {
		t.Fatal(err)
	}

	valid, err := l.GetValidEntries(5 * time.Minute)
	if err != nil {
		t.Fatalf("GetValidEntries: %v", err)
	}
	if len(valid) != 1 || valid[0].ID != "fresh" {
		t.Fatalf("expected only fresh entry, got %+v", valid)
	}
}

func TestPruneStaleDeletesEmptyLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	l := Open(path)

	old := Entry{ID: "old", Timestamp: time.Now().Add(-time.Hour).UnixMilli(), Operation: OpStore}
	if err := l.Append(old); err != nil {
		t.Fatal(err)
	}
	if err := l.PruneStale(); err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected log file removed, stat err = %v", err)
	}
}

func TestPruneStaleKeepsValid(t *testing.T) {
	l := newTestLog(t)
	fresh := Entry{ID: "fresh", Timestamp: time.Now().UnixMilli(), Operation: OpStore}
	if err := l.Append(fresh); err != nil {
		t.Fatal(err)
	}
	if err := l.PruneStale(); err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", len(entries))
	}
}

func TestLegacyArrayFormatReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	legacy := `[{"id":"a","timestamp_ms":1,"operation":"store","payload":{}}]`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}
	l := Open(path)
	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "a" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
