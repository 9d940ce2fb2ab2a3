package store

import (
	"database/sql"
	"sort"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/salience"
)

// ScoredFact pairs a Fact with the salience score it ranked at.
type ScoredFact struct {
	Fact  *Fact
	Score float64
}

// SearchOptions narrows Search.
type SearchOptions struct {
	Scope   ScopeFilter
	Tag     string
	Limit   int
	Weights *salience.Weights

	// AsOf, when set, switches to the bi-temporal point-in-time view
	// (spec.md §4.9) instead of the default hide-superseded/hide-expired
	// visibility rule.
	AsOf *time.Time
}

// Search runs an FTS5 match against query, scores every candidate with the
// salience formula, and returns the top Limit results ordered highest
// score first (spec.md §4.7). Facts without a usable BM25 rank spread
// fall back to the documented 0.8 floor rather than skewing the ranking.
func (s *Store) Search(query string, opts SearchOptions) ([]ScoredFact, error) {
	ftsQ := ftsQuery(query)
	if ftsQ == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	weights := salience.DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	frag, fargs := opts.Scope.fragment()

	type candidate struct {
		fact *Fact
		rank float64
	}
	var candidates []candidate

	err := s.withDB(func(db *sql.DB) error {
		visibility := `f.superseded_at IS NULL AND (f.expires_at IS NULL OR f.expires_at > ?)`
		visArgs := []any{time.Now().UnixMilli()}
		if opts.AsOf != nil {
			asOf := opts.AsOf.UnixMilli()
			visibility = `f.valid_from <= ? AND (f.valid_until IS NULL OR f.valid_until > ?)`
			visArgs = []any{asOf, asOf}
		}

		q := `SELECT ` + prefixed("f", factColumns) + `, bm25(facts_fts) AS rank
			FROM facts f JOIN facts_fts ON facts_fts.rowid = f.rowid
			WHERE facts_fts MATCH ? AND ` + visibility + ` AND ` + frag
		args := append([]any{ftsQ}, visArgs...)
		args = append(args, fargs...)
		if opts.Tag != "" {
			q += ` AND f.tags LIKE ?`
			args = append(args, "%,"+opts.Tag+",%")
		}
		q += ` ORDER BY rank LIMIT ?`
		args = append(args, limit*4)

		rows, err := db.Query(q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rank float64
			f, err := scanFactRow(rows, &rank)
			if err != nil {
				return err
			}
			candidates = append(candidates, candidate{fact: f, rank: rank})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	minRank, maxRank := candidates[0].rank, candidates[0].rank
	for _, c := range candidates {
		if c.rank < minRank {
			minRank = c.rank
		}
		if c.rank > maxRank {
			maxRank = c.rank
		}
	}

	now := time.Now()
	scored := make([]ScoredFact, 0, len(candidates))
	for _, c := range candidates {
		bm := salience.BM25Norm(c.rank, minRank, maxRank)
		in := salience.CandidateInputs{
			BM25Norm:      bm,
			Freshness:     salience.Freshness(c.fact.ExpiresAt, now),
			Confidence:    c.fact.Confidence,
			ReinforcedCnt: c.fact.ReinforcedCount,
			RecallCount:   c.fact.RecallCount,
			LastAccessed:  c.fact.LastAccessed,
			Now:           now,
		}
		scored = append(scored, ScoredFact{Fact: c.fact, Score: salience.Score(in, weights)})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// LookupOptions narrows Lookup.
type LookupOptions struct {
	Scope ScopeFilter
	Limit int
	AsOf  *time.Time
}

// Lookup returns visible facts for an exact (entity, key) pair, scored by
// the simplified lookup formula (base = confidence) rather than BM25
// (spec.md §4.7's lookup() path).
func (s *Store) Lookup(entity, key string, opts LookupOptions) ([]ScoredFact, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	frag, fargs := opts.Scope.fragment()
	weights := salience.DefaultWeights()

	visibility := `superseded_at IS NULL AND (expires_at IS NULL OR expires_at > ?)`
	visArgs := []any{time.Now().UnixMilli()}
	if opts.AsOf != nil {
		asOf := opts.AsOf.UnixMilli()
		visibility = `valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)`
		visArgs = []any{asOf, asOf}
	}

	var facts []*Fact
	err := s.withDB(func(db *sql.DB) error {
		q := `SELECT ` + factColumns + ` FROM facts
			WHERE entity = ? AND key = ? AND ` + visibility + ` AND ` + frag + `
			ORDER BY created_at DESC LIMIT ?`
		args := append([]any{entity, key}, visArgs...)
		args = append(args, fargs...)
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
			facts = append(facts, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]ScoredFact, 0, len(facts))
	for _, f := range facts {
		in := salience.CandidateInputs{
			Confidence:    f.Confidence,
			ReinforcedCnt: f.ReinforcedCount,
			RecallCount:   f.RecallCount,
			LastAccessed:  f.LastAccessed,
			Now:           now,
		}
		out = append(out, ScoredFact{Fact: f, Score: salience.LookupScore(f.Confidence, in, weights)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
