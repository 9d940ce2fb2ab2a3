package store

import (
	"database/sql"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/decay"
)

// refreshBatchSize caps how many ids RefreshAccessedFacts touches per
// transaction (spec.md §4.7).
const refreshBatchSize = 500

// DefaultInactivePreferenceDays is the CompactionOptions default for
// demoting untouched preference facts out of hot (spec.md §4.10).
const DefaultInactivePreferenceDays = 30

// approxTokens estimates a stored token count from rune length, the
// coarse 4-chars-per-token heuristic spec.md §4.10 calls for rather than an
// exact tokenizer.
func approxTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// CompactionOptions parametrizes RunCompaction (spec.md §4.10).
type CompactionOptions struct {
	InactivePreferenceDays int
	HotMaxTokens           int
	HotMaxFacts            int
}

// CompactionResult summarizes one RunCompaction pass.
type CompactionResult struct {
	PromotedToHot int
	DemotedToCold int
	DemotedToWarm int
}

// RunCompaction re-tiers every visible fact in four ordered steps (spec.md
// §4.10): decisions and task-tagged facts sink to cold; stale preferences
// fall from hot to warm; blocker-tagged facts rise to hot under a token and
// count budget; any remaining hot fact that isn't tagged blocker demotes to
// warm.
func (s *Store) RunCompaction(opts CompactionOptions) (*CompactionResult, error) {
	if opts.InactivePreferenceDays <= 0 {
		opts.InactivePreferenceDays = DefaultInactivePreferenceDays
	}
	res := &CompactionResult{}
	now := time.Now()

	err := s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// Step 1: decisions and task-tagged facts sink to cold.
		res1, err := tx.Exec(`UPDATE facts SET tier = ? WHERE superseded_at IS NULL AND tier != ?
			AND (entity = 'decision' OR tags LIKE '%,task,%')`, string(TierCold), string(TierCold))
		if err != nil {
			return err
		}
		if n, err := res1.RowsAffected(); err == nil {
			res.DemotedToCold += int(n)
		}

		// Step 2: preferences not accessed within InactivePreferenceDays fall
		// from hot to warm.
		cutoff := now.Add(-time.Duration(opts.InactivePreferenceDays) * 24 * time.Hour).UnixMilli()
		res2, err := tx.Exec(`UPDATE facts SET tier = ? WHERE superseded_at IS NULL AND tier = ?
			AND tags LIKE '%,preference,%' AND (last_accessed IS NULL OR last_accessed < ?)`,
			string(TierWarm), string(TierHot), cutoff)
		if err != nil {
			return err
		}
		if n, err := res2.RowsAffected(); err == nil {
			res.DemotedToWarm += int(n)
		}

		// Step 3: blocker-tagged facts promote to hot, subject to a count and
		// rolling token budget; most recently accessed first.
		rows, err := tx.Query(`SELECT id, text, summary, tier FROM facts
			WHERE superseded_at IS NULL AND tags LIKE '%,blocker,%'
			ORDER BY last_accessed DESC`)
		if err != nil {
			return err
		}
		type blocker struct{ id, text, summary, tier string }
		var blockers []blocker
		for rows.Next() {
			var b blocker
			if err := rows.Scan(&b.id, &b.text, &b.summary, &b.tier); err != nil {
				rows.Close()
				return err
			}
			blockers = append(blockers, b)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		promoted := 0
		tokenBudget := opts.HotMaxTokens
		for _, b := range blockers {
			if opts.HotMaxFacts > 0 && promoted >= opts.HotMaxFacts {
				break
			}
			content := b.text
			if b.summary != "" {
				content = b.summary + b.text
			}
			cost := approxTokens(content)
			if opts.HotMaxTokens > 0 && cost > tokenBudget {
				continue
			}
			if b.tier != string(TierHot) {
				if _, err := tx.Exec(`UPDATE facts SET tier = ? WHERE id = ?`, string(TierHot), b.id); err != nil {
					return err
				}
				res.PromotedToHot++
			}
			promoted++
			if opts.HotMaxTokens > 0 {
				tokenBudget -= cost
			}
		}

		// Step 4: any hot fact that is not tagged blocker demotes to warm.
		res4, err := tx.Exec(`UPDATE facts SET tier = ? WHERE superseded_at IS NULL AND tier = ?
			AND tags NOT LIKE '%,blocker,%'`, string(TierWarm), string(TierHot))
		if err != nil {
			return err
		}
		if n, err := res4.RowsAffected(); err == nil {
			res.DemotedToWarm += int(n)
		}

		return tx.Commit()
	})
	return res, err
}

// GetHotFacts returns hot-tier facts ordered by most recent access, packing
// as many as fit within maxTokens (0 = unlimited) using the same
// chars/4 token approximation as RunCompaction. A fact whose own content
// exceeds the remaining budget is skipped, not truncated, so later
// smaller facts still get a chance to fit (spec.md §4.10).
func (s *Store) GetHotFacts(maxTokens int) ([]*Fact, error) {
	var out []*Fact
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT `+factColumns+` FROM facts
			WHERE tier = ? AND superseded_at IS NULL
			ORDER BY last_accessed DESC`, string(TierHot))
		if err != nil {
			return err
		}
		defer rows.Close()

		budget := maxTokens
		for rows.Next() {
			f, err := scanFact(rows)
			if err != nil {
				return err
			}
			if maxTokens <= 0 {
				out = append(out, f)
				continue
			}
			content := f.Text
			if f.Summary != "" {
				content = f.Summary + f.Text
			}
			cost := approxTokens(content)
			if cost > budget {
				continue
			}
			out = append(out, f)
			budget -= cost
		}
		return rows.Err()
	})
	return out, err
}

// RefreshAccessedFacts bumps recall_count and last_accessed for every id in
// factIDs (the read-path "touch" spec.md §4.7 describes), batching the
// writes in groups of refreshBatchSize ids per transaction. For facts
// classified stable or active, this also extends expires_at to
// now+TTL(class) — the access-on-touch TTL refresh spec.md §4.1 calls for,
// so a fact still in active use never silently expires out from under it.
func (s *Store) RefreshAccessedFacts(factIDs []string) error {
	for start := 0; start < len(factIDs); start += refreshBatchSize {
		end := start + refreshBatchSize
		if end > len(factIDs) {
			end = len(factIDs)
		}
		if err := s.refreshAccessedBatch(factIDs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) refreshAccessedBatch(batch []string) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := time.Now()
		nowMs := now.UnixMilli()

		touch, err := tx.Prepare(`UPDATE facts SET recall_count = recall_count + 1, last_accessed = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer touch.Close()

		classOf, err := tx.Prepare(`SELECT decay_class FROM facts WHERE id = ?`)
		if err != nil {
			return err
		}
		defer classOf.Close()

		extend, err := tx.Prepare(`UPDATE facts SET expires_at = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer extend.Close()

		for _, id := range batch {
			if _, err := touch.Exec(nowMs, id); err != nil {
				return err
			}

			var class string
			if err := classOf.QueryRow(id).Scan(&class); err != nil {
				if err == sql.ErrNoRows {
					continue
				}
				return err
			}
			if decay.Class(class) == decay.ClassStable || decay.Class(class) == decay.ClassActive {
				exp := decay.Expiry(decay.Class(class), now)
				if exp != nil {
					if _, err := extend.Exec(exp.UnixMilli(), id); err != nil {
						return err
					}
				}
			}
		}
		return tx.Commit()
	})
}
