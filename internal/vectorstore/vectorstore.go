// Package vectorstore implements the approximate-nearest-neighbour index
// (spec.md §4.2) over the same id space as the relational store, backed by
// the sqlite-vec extension loaded into the same pure-Go SQLite driver the
// relational store uses.
package vectorstore

import (
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

// DefaultMinScore is the default score floor applied by Search.
const DefaultMinScore = 0.3

// DefaultDuplicateThreshold is the score HasDuplicate compares its top match
// against.
const DefaultDuplicateThreshold = 0.95

// Row is the logical shape of a stored vector row.
type Row struct {
	ID         string
	Text       string
	Vector     []float32
	Importance float64
	Category   string
	CreatedAt  int64
}

// Match is a single ANN search hit.
type Match struct {
	ID    string
	Score float64
}

// idPattern validates ids accepted by Delete/Store before they reach any
// SQL predicate, preventing malformed identifiers from being used to probe
// or corrupt the deletion path (spec.md §4.2).
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Store is the ANN index. Safe for concurrent use; initialization is lazy
// and idempotent under concurrent first callers (a single shared
// sync.Once-guarded init, per spec.md §9).
type Store struct {
	db  *sql.DB
	dim int

	once    sync.Once
	initErr error
}

// Open binds a Store to an existing *sql.DB (shared with the relational
// store so both live in one SQLite file) for vectors of the given
// dimension. No I/O happens until the first operation.
func Open(db *sql.DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

func (s *Store) ensureInit() error {
	s.once.Do(func() {
		schema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
				embedding float[%d]
			);
			CREATE TABLE IF NOT EXISTS vec_meta (
				hex_id TEXT PRIMARY KEY,
				vec_rowid INTEGER NOT NULL UNIQUE,
				text TEXT NOT NULL,
				importance REAL NOT NULL DEFAULT 0.7,
				category TEXT,
				created_at INTEGER NOT NULL
			);
		`, s.dim)
		if _, err := s.db.Exec(schema); err != nil {
			s.initErr = fmt.Errorf("vectorstore: init: %w", err)
			return
		}
	})
	return s.initErr
}

// Store inserts or upserts row. Failures are propagated (writes must keep
// WAL state consistent, per spec.md §4.2); read-path failures elsewhere in
// this package are logged and degrade instead.
func (s *Store) Store(row Row) error {
	if err := s.ensureInit(); err != nil {
		return err
	}
	if !idPattern.MatchString(row.ID) {
		return fmt.Errorf("vectorstore: invalid id %q", row.ID)
	}
	if len(row.Vector) != s.dim {
		return fmt.Errorf("vectorstore: vector has dim %d, want %d", len(row.Vector), s.dim)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("vectorstore: begin: %w", err)
	}
	defer tx.Rollback()

	// Upsert semantics: drop any existing row for this id, then insert fresh.
	var oldRowID sql.NullInt64
	if err := tx.QueryRow(`SELECT vec_rowid FROM vec_meta WHERE hex_id = ?`, row.ID).Scan(&oldRowID); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("vectorstore: lookup existing: %w", err)
	}
	if oldRowID.Valid {
		if _, err := tx.Exec(`DELETE FROM vec_memories WHERE rowid = ?`, oldRowID.Int64); err != nil {
			return fmt.Errorf("vectorstore: delete stale vector: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM vec_meta WHERE hex_id = ?`, row.ID); err != nil {
			return fmt.Errorf("vectorstore: delete stale meta: %w", err)
		}
	}

	blob, err := vec.SerializeFloat32(row.Vector)
	if err != nil {
		return fmt.Errorf("vectorstore: serialize vector: %w", err)
	}

	res, err := tx.Exec(`INSERT INTO vec_memories(embedding) VALUES (?)`, blob)
	if err != nil {
		return fmt.Errorf("vectorstore: insert vector: %w", err)
	}
	newRowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("vectorstore: last insert id: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO vec_meta(hex_id, vec_rowid, text, importance, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.ID, newRowID, row.Text, row.Importance, row.Category, row.CreatedAt); err != nil {
		return fmt.Errorf("vectorstore: insert meta: %w", err)
	}

	return tx.Commit()
}

// Search returns up to k nearest neighbours of vector with score >= minScore
// (0 uses DefaultMinScore). Read-path failures are logged and degrade to an
// empty result rather than propagating, per spec.md §4.2.
func (s *Store) Search(vector []float32, k int, minScore float64) []Match {
	if err := s.ensureInit(); err != nil {
		fmt.Printf("[vectorstore] init failed, degrading to empty result: %v\n", err)
		return nil
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	blob, err := vec.SerializeFloat32(vector)
	if err != nil {
		fmt.Printf("[vectorstore] serialize query vector failed: %v\n", err)
		return nil
	}

	rows, err := s.db.Query(`
		SELECT m.hex_id, v.distance
		FROM vec_memories v
		JOIN vec_meta m ON m.vec_rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, blob, k)
	if err != nil {
		fmt.Printf("[vectorstore] search query failed: %v\n", err)
		return nil
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			continue
		}
		score := 1 / (1 + distance)
		if score >= minScore {
			out = append(out, Match{ID: id, Score: score})
		}
	}
	return out
}

// HasDuplicate reports whether the top-1 match for vector scores at or
// above threshold (0 uses DefaultDuplicateThreshold).
func (s *Store) HasDuplicate(vector []float32, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	matches := s.Search(vector, 1, 0)
	return len(matches) > 0 && matches[0].Score >= threshold
}

// Delete removes the vector (and its metadata row) for id, if present.
func (s *Store) Delete(id string) error {
	if err := s.ensureInit(); err != nil {
		return err
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("vectorstore: invalid id %q", id)
	}

	var rowID int64
	err := s.db.QueryRow(`SELECT vec_rowid FROM vec_meta WHERE hex_id = ?`, id).Scan(&rowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vectorstore: lookup: %w", err)
	}

	if _, err := s.db.Exec(`DELETE FROM vec_memories WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("vectorstore: delete vector: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM vec_meta WHERE hex_id = ?`, id); err != nil {
		return fmt.Errorf("vectorstore: delete meta: %w", err)
	}
	return nil
}

// Count returns the number of stored vectors, or 0 on a read failure.
func (s *Store) Count() int {
	if err := s.ensureInit(); err != nil {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vec_meta`).Scan(&n); err != nil {
		fmt.Printf("[vectorstore] count failed: %v\n", err)
		return 0
	}
	return n
}

// Close is a no-op: the underlying *sql.DB is owned by the relational store
// and closed there.
func (s *Store) Close() error {
	return nil
}
