// Package store implements the relational/full-text store (C1), the link
// graph (C8), the supersession engine's structural half (C9), the
// tiering/compaction engine (C10), the procedures store (C11), and the
// scope filter (C12) from spec.md §4 — all backed by one SQLite connection
// so fact, link, and procedure writes share transaction boundaries.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/decay"

	_ "github.com/ncruces/go-sqlite3/driver"
)

// Store is the relational/FTS store. Safe for concurrent use: readers and
// writers rely on SQLite's own WAL-mode concurrency; the mutex here only
// guards the rare close-and-reopen path (spec.md §4.1, §5).
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	dsn  string
	open bool

	superseded superseededCache
	classifier *decay.Classifier
}

// Open creates or opens a Store at dsn (":memory:" for an ephemeral store,
// or a file path for persistent storage) and applies the standard pragmas
// and migrations. The decay classifier starts out built from compiled-in
// English defaults; SetClassifier swaps in one built from caller-supplied
// language resources.
func Open(dsn string) (*Store, error) {
	s := &Store{dsn: dsn, classifier: decay.New(nil)}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClassifier replaces the decay classifier StoreFact uses, letting a
// caller plug in decay keyword/regex overlays for languages beyond English
// (spec.md §9's language-resources open question).
func (s *Store) SetClassifier(c *decay.Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = c
}

func (s *Store) getClassifier() *decay.Classifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classifier
}

// DB exposes the underlying *sql.DB so sibling components backed by the
// same SQLite file (the vector store, the credential vault) can share the
// connection rather than opening their own.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

func (s *Store) reopen() error {
	db, err := sql.Open("sqlite3", s.dsn)
	if err != nil {
		return fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA wal_autocheckpoint=1000`,
		`PRAGMA foreign_keys=ON`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return err
	}

	s.mu.Lock()
	s.db = db
	s.open = true
	s.mu.Unlock()
	return nil
}

// withDB runs fn against the live connection, transparently reopening and
// re-applying pragmas if a previous Close happened out from under the store
// (e.g. a restart signal), per spec.md §4.1's close-and-reopen semantics.
func (s *Store) withDB(fn func(*sql.DB) error) error {
	s.mu.RLock()
	open := s.open
	db := s.db
	s.mu.RUnlock()

	if !open {
		if err := s.reopen(); err != nil {
			return err
		}
		s.mu.RLock()
		db = s.db
		s.mu.RUnlock()
	}
	return fn(db)
}

// Close closes the underlying connection. A subsequent operation
// transparently reopens it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	err := s.db.Close()
	s.open = false
	return err
}
