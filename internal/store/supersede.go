package store

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

// superseededCacheTTL bounds how long GetSupersededTexts trusts its cached
// set before re-querying (spec.md §9: the cache exists to keep the
// vector-result filter in Engine.Search cheap, not to be a source of truth).
const superseededCacheTTL = 5 * time.Minute

// superseededCache memoizes the set of superseded fact texts so
// Engine.Search can cheaply drop vector-only hits whose text was already
// superseded without hitting SQLite on every candidate.
type superseededCache struct {
	mu        sync.Mutex
	texts     map[string]bool
	loadedAt  time.Time
	populated bool
}

func (c *superseededCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.populated = false
	c.texts = nil
}

// Supersede marks oldID as superseded by newID, recording a SUPERSEDES link
// and invalidating the superseded-text cache. It refuses to supersede a
// fact that is already superseded (invariant 2 of spec.md §3).
func (s *Store) Supersede(oldID, newID ids.ID) error {
	err := s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var supersededAt sql.NullInt64
		if err := tx.QueryRow(`SELECT superseded_at FROM facts WHERE id = ?`, oldID.String()).Scan(&supersededAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if supersededAt.Valid {
			return ErrAlreadySuperseded
		}

		now := time.Now().UnixMilli()
		if _, err := tx.Exec(`UPDATE facts SET superseded_at = ?, superseded_by = ?, updated_at = ? WHERE id = ?`,
			now, newID.String(), now, oldID.String()); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE facts SET valid_until = ? WHERE id = ? AND valid_until IS NULL`,
			now, oldID.String()); err != nil {
			return err
		}

		linkID := ids.New()
		if _, err := tx.Exec(`INSERT OR IGNORE INTO memory_links (id, from_id, to_id, link_type, strength, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			linkID.String(), newID.String(), oldID.String(), string(LinkSupersedes), 1.0, now); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return err
	}
	s.superseded.invalidate()
	return nil
}

// SupersedeWithoutReplacement marks oldID superseded with no successor
// (superseded_by stays NULL, no SUPERSEDES link is created) — the
// classify-before-write DELETE outcome of spec.md §4.9, where the new
// candidate text is judged to invalidate an existing fact rather than
// replace it with one.
func (s *Store) SupersedeWithoutReplacement(oldID ids.ID) error {
	err := s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var supersededAt sql.NullInt64
		if err := tx.QueryRow(`SELECT superseded_at FROM facts WHERE id = ?`, oldID.String()).Scan(&supersededAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if supersededAt.Valid {
			return ErrAlreadySuperseded
		}

		now := time.Now().UnixMilli()
		if _, err := tx.Exec(`UPDATE facts SET superseded_at = ?, valid_until = ?, updated_at = ? WHERE id = ?`,
			now, now, now, oldID.String()); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	s.superseded.invalidate()
	return nil
}

// GetSupersededTexts returns the lowercased, trimmed text of every
// superseded fact, refreshing its cache at most once per
// superseededCacheTTL.
func (s *Store) GetSupersededTexts() (map[string]bool, error) {
	s.superseded.mu.Lock()
	if s.superseded.populated && time.Since(s.superseded.loadedAt) < superseededCacheTTL {
		out := make(map[string]bool, len(s.superseded.texts))
		for k, v := range s.superseded.texts {
			out[k] = v
		}
		s.superseded.mu.Unlock()
		return out, nil
	}
	s.superseded.mu.Unlock()

	texts := map[string]bool{}
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT text FROM facts WHERE superseded_at IS NOT NULL`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var text string
			if err := rows.Scan(&text); err != nil {
				return err
			}
			texts[strings.ToLower(strings.TrimSpace(text))] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	s.superseded.mu.Lock()
	s.superseded.texts = texts
	s.superseded.loadedAt = time.Now()
	s.superseded.populated = true
	s.superseded.mu.Unlock()

	out := make(map[string]bool, len(texts))
	for k, v := range texts {
		out[k] = v
	}
	return out, nil
}

// SimilarByEntityKey finds a visible fact sharing (entity, key), the
// strongest structural signal that a new fact supersedes an old one
// (spec.md §4.9 classify-before-write rule 1).
func (s *Store) SimilarByEntityKey(entity, key string, scope ScopeFilter) (*Fact, error) {
	if entity == "" || key == "" {
		return nil, nil
	}
	frag, fargs := scope.fragment()
	var f *Fact
	err := s.withDB(func(db *sql.DB) error {
		q := `SELECT ` + factColumns + ` FROM facts
			WHERE entity = ? AND key = ? AND superseded_at IS NULL AND ` + frag + `
			ORDER BY created_at DESC LIMIT 1`
		args := append([]any{entity, key}, fargs...)
		row := db.QueryRow(q, args...)
		parsed, err := scanFact(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		f = parsed
		return nil
	})
	return f, err
}

// SimilarByEntity finds visible facts about the same entity regardless of
// key, a weaker structural signal used when no (entity, key) pair is given
// (spec.md §4.9 rule 2).
func (s *Store) SimilarByEntity(entity string, scope ScopeFilter, limit int) ([]*Fact, error) {
	if entity == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	frag, fargs := scope.fragment()
	var out []*Fact
	err := s.withDB(func(db *sql.DB) error {
		q := `SELECT ` + factColumns + ` FROM facts
			WHERE entity = ? AND superseded_at IS NULL AND ` + frag + `
			ORDER BY created_at DESC LIMIT ?`
		args := append([]any{entity}, fargs...)
		args = append(args, limit)
		rows, err := db.Query(q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFact(rows)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// SimilarByText runs an FTS5 match against the candidate text, the fallback
// structural signal when entity/key are both absent (spec.md §4.9 rule 3).
func (s *Store) SimilarByText(text string, scope ScopeFilter, limit int) ([]*Fact, error) {
	query := ftsQuery(text)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	frag, fargs := scope.fragment()
	var out []*Fact
	err := s.withDB(func(db *sql.DB) error {
		q := `SELECT ` + prefixed("f", factColumns) + ` FROM facts f
			JOIN facts_fts ON facts_fts.rowid = f.rowid
			WHERE facts_fts MATCH ? AND f.superseded_at IS NULL AND ` + frag + `
			ORDER BY bm25(facts_fts) LIMIT ?`
		args := append([]any{query}, fargs...)
		args = append(args, limit)
		rows, err := db.Query(q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFact(rows)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// ftsQuery turns free text into a safe FTS5 MATCH expression: each
// alphanumeric token is quoted and OR-joined, so punctuation in user text
// never reaches FTS5's query-syntax parser.
func ftsQuery(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_')
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// prefixed rewrites a comma-separated column list to be qualified with
// alias, for queries that join facts against facts_fts.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
