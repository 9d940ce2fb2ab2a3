// Package telemetry reports store-wide counters and token-size estimates
// for callers that need to watch budget or occupancy without reaching
// into internal/store directly.
package telemetry

import (
	"database/sql"
	"math"
	"strings"
)

// Stats is a point-in-time snapshot of row counts, broken down by the axes
// callers most often budget against.
type Stats struct {
	TotalFacts      int
	TotalProcedures int
	ByTier          map[string]int
	ByScope         map[string]int
	ByDecayClass    map[string]int
	SupersededFacts int
	ExpiredFacts    int
}

// Collect queries db for a Stats snapshot. db is the engine's underlying
// *sql.DB handle (Store.DB()); Collect issues read-only queries against the
// facts/procedures tables and never mutates state.
func Collect(db *sql.DB, nowMillis int64) (*Stats, error) {
	s := &Stats{
		ByTier:       map[string]int{},
		ByScope:      map[string]int{},
		ByDecayClass: map[string]int{},
	}

	if err := db.QueryRow(`SELECT COUNT(*) FROM facts`).Scan(&s.TotalFacts); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM procedures`).Scan(&s.TotalProcedures); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM facts WHERE superseded_at IS NOT NULL`).Scan(&s.SupersededFacts); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM facts WHERE expires_at IS NOT NULL AND expires_at <= ?`, nowMillis).Scan(&s.ExpiredFacts); err != nil {
		return nil, err
	}

	if err := groupCount(db, `SELECT tier, COUNT(*) FROM facts WHERE superseded_at IS NULL GROUP BY tier`, s.ByTier); err != nil {
		return nil, err
	}
	if err := groupCount(db, `SELECT scope, COUNT(*) FROM facts WHERE superseded_at IS NULL GROUP BY scope`, s.ByScope); err != nil {
		return nil, err
	}
	if err := groupCount(db, `SELECT decay_class, COUNT(*) FROM facts WHERE superseded_at IS NULL GROUP BY decay_class`, s.ByDecayClass); err != nil {
		return nil, err
	}

	return s, nil
}

func groupCount(db *sql.DB, query string, into map[string]int) error {
	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// EstimateStoredTokens approximates the token footprint of text as it sits
// on disk, using the same coarse chars/4 heuristic as the tiering pass.
// Deliberately not unified with EstimateDisplayTokens: the two storage and
// display heuristics diverge and are kept as separate functions.
func EstimateStoredTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// EstimateDisplayTokens approximates the token footprint of text once it is
// rendered into a prompt, using a words-per-token heuristic (~4/3 tokens per
// word) rather than the stored-text chars/4 heuristic.
func EstimateDisplayTokens(s string) int {
	words := strings.Fields(s)
	if len(words) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(words)) * 4.0 / 3.0))
}
