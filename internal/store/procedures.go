package store

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/salience"
)

// Procedure lifecycle thresholds (spec.md §4.11): a positive procedure with
// at least promotionMinSuccess successes and promotionMinConfidence
// confidence is eligible for promotion to a standalone skill; a procedure
// unvalidated for staleAfter is flagged stale.
const (
	promotionMinSuccess    = 5
	promotionMinConfidence = 0.85
	staleAfter             = 60 * 24 * time.Hour
)

const procedureColumns = `id, task_pattern, recipe_json, procedure_type,
	success_count, failure_count, success_sessions, failure_sessions,
	last_validated, last_failed, confidence, ttl_days,
	promoted_to_skill, skill_path, promoted_at,
	reinforced_count, reinforced_quotes, scope, scope_target,
	source_sessions, created_at, updated_at`

func scanProcedure(row interface{ Scan(...any) error }) (*Procedure, error) {
	var p Procedure
	var id, procType, scopeVal string
	var successSessionsRaw, failureSessionsRaw, quotesRaw, sourceSessionsRaw string
	var lastValidated, lastFailed, promotedAt sql.NullInt64
	var promoted int
	var createdAt, updatedAt int64

	err := row.Scan(
		&id, &p.TaskPattern, &p.RecipeJSON, &procType,
		&p.SuccessCount, &p.FailureCount, &successSessionsRaw, &failureSessionsRaw,
		&lastValidated, &lastFailed, &p.Confidence, &p.TTLDays,
		&promoted, &p.SkillPath, &promotedAt,
		&p.ReinforcedCount, &quotesRaw, &scopeVal, &p.ScopeTarget,
		&sourceSessionsRaw, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	pid, perr := ids.Parse(id)
	if perr != nil {
		return nil, perr
	}
	p.ID = pid
	p.Type = ProcedureType(procType)
	p.Scope = Scope(scopeVal)
	p.PromotedToSkill = promoted != 0
	p.SuccessSessions = parseOrDefault[[]string]("success_sessions", []byte(jsonOrEmpty(successSessionsRaw)))
	p.FailureSessions = parseOrDefault[[]string]("failure_sessions", []byte(jsonOrEmpty(failureSessionsRaw)))
	p.ReinforcedQuotes = parseOrDefault[[]string]("reinforced_quotes", []byte(quotesRaw))
	p.SourceSessions = parseOrDefault[[]string]("source_sessions", []byte(jsonOrEmpty(sourceSessionsRaw)))
	p.CreatedAt = msToTime(createdAt)
	p.UpdatedAt = msToTime(updatedAt)

	if lastValidated.Valid {
		t := msToTime(lastValidated.Int64)
		p.LastValidated = &t
	}
	if lastFailed.Valid {
		t := msToTime(lastFailed.Int64)
		p.LastFailed = &t
	}
	if promotedAt.Valid {
		t := msToTime(promotedAt.Int64)
		p.PromotedAt = &t
	}
	return &p, nil
}

// UpsertProcedure inserts a new procedure, or if one already exists with the
// same (task_pattern, scope, scope_target), returns it unchanged — callers
// reinforce an existing procedure via RecordSuccess/RecordFailure rather
// than overwriting its recipe here.
func (s *Store) UpsertProcedure(in ProcedureInput) (*Procedure, error) {
	if err := validateScope(in.Scope, in.ScopeTarget); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = ProcedurePositive
	}

	existing, err := s.findProcedure(in.TaskPattern, in.Scope, in.ScopeTarget)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	ttl := 30
	if in.TTLDays != nil {
		ttl = *in.TTLDays
	}
	p := &Procedure{
		ID:          ids.New(),
		TaskPattern: in.TaskPattern,
		RecipeJSON:  in.RecipeJSON,
		Type:        in.Type,
		Confidence:  0.5,
		TTLDays:     ttl,
		Scope:       in.Scope,
		ScopeTarget: in.ScopeTarget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Scope == "" {
		p.Scope = ScopeGlobal
	}
	if p.RecipeJSON == "" {
		p.RecipeJSON = "{}"
	}

	err = s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO procedures (`+procedureColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.ID.String(), p.TaskPattern, p.RecipeJSON, string(p.Type),
			0, 0, "", "",
			nil, nil, p.Confidence, p.TTLDays,
			0, "", nil,
			0, "[]", string(p.Scope), p.ScopeTarget,
			"", p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) findProcedure(taskPattern string, scope Scope, target string) (*Procedure, error) {
	if scope == "" {
		scope = ScopeGlobal
	}
	var p *Procedure
	err := s.withDB(func(db *sql.DB) error {
		row := db.QueryRow(`SELECT `+procedureColumns+` FROM procedures
			WHERE task_pattern = ? AND scope = ? AND scope_target = ?`, taskPattern, string(scope), target)
		parsed, err := scanProcedure(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		p = parsed
		return nil
	})
	return p, err
}

// RecordSuccess increments a procedure's success count, recomputes its
// confidence, and stamps last_validated. sessionID is appended to
// success_sessions only if not already present, so a single session's
// repeated re-use of a procedure within that session does not inflate its
// effective vote count (spec.md §4.11's per-session dedup rule).
func (s *Store) RecordSuccess(id ids.ID, sessionID string) error {
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var successRaw string
		var successCount, failureCount int
		if err := tx.QueryRow(`SELECT success_sessions, success_count, failure_count FROM procedures WHERE id = ?`,
			id.String()).Scan(&successRaw, &successCount, &failureCount); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}

		sessions := parseOrDefault[[]string]("success_sessions", []byte(jsonOrEmpty(successRaw)))
		if !containsString(sessions, sessionID) {
			sessions = append(sessions, sessionID)
			successCount++
		}
		sessionsJSON, _ := json.Marshal(sessions)
		confidence := clampConfidence(successCount, failureCount)
		now := time.Now().UnixMilli()

		_, err = tx.Exec(`UPDATE procedures SET success_count = ?, success_sessions = ?,
			confidence = ?, last_validated = ?, updated_at = ? WHERE id = ?`,
			successCount, string(sessionsJSON), confidence, now, now, id.String())
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// RecordFailure is RecordSuccess's mirror image for failed applications.
func (s *Store) RecordFailure(id ids.ID, sessionID string) error {
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var failureRaw string
		var successCount, failureCount int
		if err := tx.QueryRow(`SELECT failure_sessions, success_count, failure_count FROM procedures WHERE id = ?`,
			id.String()).Scan(&failureRaw, &successCount, &failureCount); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}

		sessions := parseOrDefault[[]string]("failure_sessions", []byte(jsonOrEmpty(failureRaw)))
		if !containsString(sessions, sessionID) {
			sessions = append(sessions, sessionID)
			failureCount++
		}
		sessionsJSON, _ := json.Marshal(sessions)
		confidence := clampConfidence(successCount, failureCount)
		now := time.Now().UnixMilli()

		_, err = tx.Exec(`UPDATE procedures SET failure_count = ?, failure_sessions = ?,
			confidence = ?, last_failed = ?, updated_at = ? WHERE id = ?`,
			failureCount, string(sessionsJSON), confidence, now, now, id.String())
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Reinforce records an additional observed quote supporting a procedure,
// bumping reinforced_count, and auto-promotes the procedure to a skill once
// it crosses the success/confidence threshold (spec.md §4.11).
func (s *Store) Reinforce(id ids.ID, quote string) error {
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var quotesRaw string
		var successCount int
		var confidence float64
		var promoted int
		if err := tx.QueryRow(`SELECT reinforced_quotes, success_count, confidence, promoted_to_skill FROM procedures WHERE id = ?`,
			id.String()).Scan(&quotesRaw, &successCount, &confidence, &promoted); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}

		quotes := parseOrDefault[[]string]("reinforced_quotes", []byte(quotesRaw))
		quotes = appendQuote(quotes, quote)
		quotesJSON, _ := json.Marshal(quotes)
		now := time.Now().UnixMilli()

		if _, err := tx.Exec(`UPDATE procedures SET reinforced_count = reinforced_count + 1,
			reinforced_quotes = ?, updated_at = ? WHERE id = ?`,
			string(quotesJSON), now, id.String()); err != nil {
			return err
		}

		if promoted == 0 && successCount >= promotionMinSuccess && confidence >= promotionMinConfidence {
			if _, err := tx.Exec(`UPDATE procedures SET promoted_to_skill = 1, promoted_at = ? WHERE id = ?`,
				now, id.String()); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
}

// MarkPromoted explicitly records a procedure's generated skill path.
func (s *Store) MarkPromoted(id ids.ID, skillPath string) error {
	return s.withDB(func(db *sql.DB) error {
		now := time.Now().UnixMilli()
		_, err := db.Exec(`UPDATE procedures SET promoted_to_skill = 1, skill_path = ?, promoted_at = ?, updated_at = ?
			WHERE id = ?`, skillPath, now, now, id.String())
		return err
	})
}

// ScoredProcedure pairs a Procedure with the salience score it ranked at.
type ScoredProcedure struct {
	Procedure *Procedure
	Score     float64
}

// SearchProceduresRanked matches positive procedures against query by task
// pattern and ranks them with the same composite salience formula facts
// use. When query yields no FTS terms, the most recently updated positive
// procedures are ranked with confidence in place of BM25; when the FTS rank
// spread collapses, BM25Norm's 0.8 fallback applies (spec.md §4.11).
func (s *Store) SearchProceduresRanked(query string, scope ScopeFilter, limit int) ([]ScoredProcedure, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQ := ftsQuery(query)
	frag, fargs := scope.fragment()

	type candidate struct {
		proc *Procedure
		rank float64
	}
	var candidates []candidate

	err := s.withDB(func(db *sql.DB) error {
		var rows *sql.Rows
		var err error
		if ftsQ != "" {
			q := `SELECT ` + prefixed("p", procedureColumns) + `, bm25(procedures_fts) AS rank
				FROM procedures p JOIN procedures_fts ON procedures_fts.rowid = p.rowid
				WHERE procedures_fts MATCH ? AND p.procedure_type = 'positive' AND ` + frag + `
				ORDER BY rank LIMIT ?`
			args := append([]any{ftsQ}, fargs...)
			args = append(args, limit*4)
			rows, err = db.Query(q, args...)
		} else {
			q := `SELECT ` + procedureColumns + ` FROM procedures
				WHERE procedure_type = 'positive' AND ` + frag + `
				ORDER BY updated_at DESC LIMIT ?`
			args := append(append([]any{}, fargs...), limit*4)
			rows, err = db.Query(q, args...)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			if ftsQ != "" {
				var rank float64
				p, scanErr := scanProcedureWithRank(rows, &rank)
				if scanErr != nil {
					return scanErr
				}
				candidates = append(candidates, candidate{proc: p, rank: rank})
				continue
			}
			p, err := scanProcedure(rows)
			if err != nil {
				return err
			}
			candidates = append(candidates, candidate{proc: p, rank: 0})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	weights := salience.DefaultWeights()
	now := time.Now()

	var minRank, maxRank float64
	if len(candidates) > 0 {
		minRank, maxRank = candidates[0].rank, candidates[0].rank
		for _, c := range candidates {
			if c.rank < minRank {
				minRank = c.rank
			}
			if c.rank > maxRank {
				maxRank = c.rank
			}
		}
	}

	scored := make([]ScoredProcedure, 0, len(candidates))
	for _, c := range candidates {
		bm := c.proc.Confidence
		if ftsQ != "" {
			bm = salience.BM25Norm(c.rank, minRank, maxRank)
		}
		in := salience.CandidateInputs{
			BM25Norm:      bm,
			Freshness:     1,
			Confidence:    c.proc.Confidence,
			ReinforcedCnt: c.proc.ReinforcedCount,
			RecallCount:   c.proc.SuccessCount,
			Now:           now,
		}
		scored = append(scored, ScoredProcedure{Procedure: c.proc, Score: salience.Score(in, weights)})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func scanProcedureWithRank(row interface{ Scan(...any) error }, rank *float64) (*Procedure, error) {
	var p Procedure
	var id, procType, scopeVal string
	var successSessionsRaw, failureSessionsRaw, quotesRaw, sourceSessionsRaw string
	var lastValidated, lastFailed, promotedAt sql.NullInt64
	var promoted int
	var createdAt, updatedAt int64

	err := row.Scan(
		&id, &p.TaskPattern, &p.RecipeJSON, &procType,
		&p.SuccessCount, &p.FailureCount, &successSessionsRaw, &failureSessionsRaw,
		&lastValidated, &lastFailed, &p.Confidence, &p.TTLDays,
		&promoted, &p.SkillPath, &promotedAt,
		&p.ReinforcedCount, &quotesRaw, &scopeVal, &p.ScopeTarget,
		&sourceSessionsRaw, &createdAt, &updatedAt, rank,
	)
	if err != nil {
		return nil, err
	}
	pid, perr := ids.Parse(id)
	if perr != nil {
		return nil, perr
	}
	p.ID = pid
	p.Type = ProcedureType(procType)
	p.Scope = Scope(scopeVal)
	p.PromotedToSkill = promoted != 0
	p.SuccessSessions = parseOrDefault[[]string]("success_sessions", []byte(jsonOrEmpty(successSessionsRaw)))
	p.FailureSessions = parseOrDefault[[]string]("failure_sessions", []byte(jsonOrEmpty(failureSessionsRaw)))
	p.ReinforcedQuotes = parseOrDefault[[]string]("reinforced_quotes", []byte(quotesRaw))
	p.SourceSessions = parseOrDefault[[]string]("source_sessions", []byte(jsonOrEmpty(sourceSessionsRaw)))
	p.CreatedAt = msToTime(createdAt)
	p.UpdatedAt = msToTime(updatedAt)
	if lastValidated.Valid {
		t := msToTime(lastValidated.Int64)
		p.LastValidated = &t
	}
	if lastFailed.Valid {
		t := msToTime(lastFailed.Int64)
		p.LastFailed = &t
	}
	if promotedAt.Valid {
		t := msToTime(promotedAt.Int64)
		p.PromotedAt = &t
	}
	return &p, nil
}

// GetStale returns positive procedures that have gone unvalidated longer
// than staleAfter.
func (s *Store) GetStale() ([]*Procedure, error) {
	var out []*Procedure
	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT `+procedureColumns+` FROM procedures
			WHERE procedure_type = 'positive'
				AND (last_validated IS NULL OR last_validated < ?)
				AND created_at < ?`, cutoff, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProcedure(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// GetReadyForSkill returns positive procedures crossing the promotion
// threshold but not yet promoted.
func (s *Store) GetReadyForSkill() ([]*Procedure, error) {
	var out []*Procedure
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT `+procedureColumns+` FROM procedures
			WHERE procedure_type = 'positive' AND promoted_to_skill = 0
				AND success_count >= ? AND confidence >= ?`, promotionMinSuccess, promotionMinConfidence)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProcedure(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// GetNegativeProceduresMatching returns negative (do-not-do-this)
// procedures whose task_pattern matches the given pattern via FTS5,
// so a caller can warn before repeating a known-bad approach.
func (s *Store) GetNegativeProceduresMatching(pattern string, scope ScopeFilter) ([]*Procedure, error) {
	ftsQ := ftsQuery(pattern)
	if ftsQ == "" {
		return nil, nil
	}
	frag, fargs := scope.fragment()
	var out []*Procedure
	err := s.withDB(func(db *sql.DB) error {
		q := `SELECT ` + prefixed("p", procedureColumns) + `
			FROM procedures p JOIN procedures_fts ON procedures_fts.rowid = p.rowid
			WHERE procedures_fts MATCH ? AND p.procedure_type = 'negative' AND ` + frag + `
			ORDER BY bm25(procedures_fts) LIMIT 10`
		args := append([]any{ftsQ}, fargs...)
		rows, err := db.Query(q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProcedure(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}
