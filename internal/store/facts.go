package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/decay"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/tagger"
)

const factColumns = `id, text, entity, key, value, category, summary, tags,
	source, source_sessions, importance, confidence, decay_class,
	expires_at, last_confirmed_at, recall_count, last_accessed,
	reinforced_count, last_reinforced_at, reinforced_quotes,
	valid_from, valid_until, supersedes_id, superseded_at, superseded_by,
	tier, scope, scope_target, normalized_hash, created_at, updated_at`

// scanFact scans one row (matching factColumns' order) into a Fact.
func scanFact(row interface{ Scan(...any) error }) (*Fact, error) {
	return scanFactRow(row)
}

// scanFactRow scans one row (matching factColumns' order, plus any caller
// trailing columns appended into extra) into a Fact. Used directly by
// scanFact and by callers that select extra trailing columns, such as a
// ranking score, alongside the fact columns.
func scanFactRow(row interface{ Scan(...any) error }, extra ...any) (*Fact, error) {
	var f Fact
	var id, supersedesID, supersededBy sql.NullString
	var expiresAt, lastConfirmedAt, lastAccessed, lastReinforcedAt, validUntil, supersededAt sql.NullInt64
	var tagsRaw, sourceSessionsRaw, quotesRaw string
	var validFrom, createdAt, updatedAt int64
	var tier, scope string

	dest := []any{
		&id, &f.Text, &f.Entity, &f.Key, &f.Value, &f.Category, &f.Summary, &tagsRaw,
		&f.Source, &sourceSessionsRaw, &f.Importance, &f.Confidence, &f.DecayClass,
		&expiresAt, &lastConfirmedAt, &f.RecallCount, &lastAccessed,
		&f.ReinforcedCount, &lastReinforcedAt, &quotesRaw,
		&validFrom, &validUntil, &supersedesID, &supersededAt, &supersededBy,
		&tier, &scope, &f.ScopeTarget, &f.NormalizedHash, &createdAt, &updatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	parsedID, perr := ids.Parse(id.String)
	if perr != nil {
		return nil, fmt.Errorf("store: corrupt fact id %q: %w", id.String, perr)
	}
	f.ID = parsedID
	f.Tier = Tier(tier)
	f.Scope = Scope(scope)
	f.Tags = tagger.Deserialize(tagsRaw)
	f.SourceSessions = parseOrDefault[[]string]("source_sessions", []byte(jsonOrEmpty(sourceSessionsRaw)))
	f.ReinforcedQuotes = parseOrDefault[[]string]("reinforced_quotes", []byte(quotesRaw))
	f.ValidFrom = msToTime(validFrom)
	f.CreatedAt = msToTime(createdAt)
	f.UpdatedAt = msToTime(updatedAt)

	if expiresAt.Valid {
		t := msToTime(expiresAt.Int64)
		f.ExpiresAt = &t
	}
	if lastConfirmedAt.Valid {
		t := msToTime(lastConfirmedAt.Int64)
		f.LastConfirmedAt = &t
	}
	if lastAccessed.Valid {
		t := msToTime(lastAccessed.Int64)
		f.LastAccessed = &t
	}
	if lastReinforcedAt.Valid {
		t := msToTime(lastReinforcedAt.Int64)
		f.LastReinforcedAt = &t
	}
	if validUntil.Valid {
		t := msToTime(validUntil.Int64)
		f.ValidUntil = &t
	}
	if supersededAt.Valid {
		t := msToTime(supersededAt.Int64)
		f.SupersededAt = &t
	}
	if supersedesID.Valid && supersedesID.String != "" {
		pid, err := ids.Parse(supersedesID.String)
		if err == nil {
			f.SupersedesID = &pid
		}
	}
	if supersededBy.Valid && supersededBy.String != "" {
		pid, err := ids.Parse(supersededBy.String)
		if err == nil {
			f.SupersededBy = &pid
		}
	}

	return &f, nil
}

// jsonOrEmpty coerces a stored sessions string, which may be either a bare
// comma-separated list (legacy) or JSON, into JSON array bytes for
// parseOrDefault. An empty input becomes "[]".
func jsonOrEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "[]"
	}
	if strings.HasPrefix(s, "[") {
		return s
	}
	parts := strings.Split(s, ",")
	b, _ := json.Marshal(parts)
	return string(b)
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// StoreFact inserts a new fact, assigning its id, resolving decay class and
// expiry, normalizing its hash, serializing tags, and validating scope, all
// within one transaction (spec.md §4.1). If fuzzy-dedup is enabled and the
// normalized hash already exists, the existing fact is returned instead of
// inserting a duplicate.
func (s *Store) StoreFact(in FactInput, fuzzyDedup bool) (*Fact, error) {
	if err := validateScope(in.Scope, in.ScopeTarget); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	hash := tagger.NormalizedHash(in.Text)

	if fuzzyDedup {
		if existing, err := s.factByHash(hash); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	factID := ids.New()
	if in.PresetID != nil {
		factID = *in.PresetID
	}
	f := &Fact{
		ID:             factID,
		Text:           in.Text,
		Entity:         in.Entity,
		Key:            in.Key,
		Value:          in.Value,
		Category:       in.Category,
		Summary:        in.Summary,
		Tags:           in.Tags,
		Source:         in.Source,
		SourceSessions: in.SourceSessions,
		Importance:     0.7,
		Confidence:     1.0,
		Tier:           TierWarm,
		Scope:          in.Scope,
		ScopeTarget:    in.ScopeTarget,
		NormalizedHash: hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if f.Scope == "" {
		f.Scope = ScopeGlobal
	}
	if in.Importance != nil {
		f.Importance = *in.Importance
	}
	if in.Confidence != nil {
		f.Confidence = *in.Confidence
	}
	if len(f.Tags) == 0 {
		f.Tags = tagger.Extract(in.Text, in.Entity)
	}

	class := decay.ClassStable
	if in.DecayClass != nil {
		class = *in.DecayClass
	} else {
		class = s.getClassifier().Classify(decay.Input{Entity: in.Entity, Key: in.Key, Value: in.Value, Text: in.Text})
	}
	f.DecayClass = class
	f.ExpiresAt = decay.Expiry(class, now)

	f.ValidFrom = now
	if in.SourceDate != nil {
		f.ValidFrom = *in.SourceDate
	}
	f.SupersedesID = in.SupersedesID
	if in.Tier != nil {
		f.Tier = *in.Tier
	}

	inserted := false
	err := s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		ok, err := insertFact(tx, f)
		if err != nil {
			return err
		}
		inserted = ok
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	if !inserted && in.PresetID != nil {
		// A preset id that already exists means this is a WAL replay of an
		// already-committed write (spec.md §4.13): idempotent, return the
		// row as it stands rather than erroring.
		existing, err := s.GetByID(*in.PresetID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	return f, nil
}

// insertFact inserts f, reporting whether a row was actually added. A
// false, nil-error result means f.ID already existed (INSERT OR IGNORE
// skipped it) — the replay-idempotency case StoreFact's PresetID path
// relies on.
func insertFact(tx *sql.Tx, f *Fact) (bool, error) {
	sessionsJSON, _ := json.Marshal(f.SourceSessions)
	quotesJSON, _ := json.Marshal(f.ReinforcedQuotes)

	var expiresAt, lastConfirmedAt, lastAccessed, lastReinforcedAt, validUntil, supersededAt any
	if f.ExpiresAt != nil {
		expiresAt = f.ExpiresAt.UnixMilli()
	}
	if f.LastConfirmedAt != nil {
		lastConfirmedAt = f.LastConfirmedAt.UnixMilli()
	}
	if f.LastAccessed != nil {
		lastAccessed = f.LastAccessed.UnixMilli()
	}
	if f.LastReinforcedAt != nil {
		lastReinforcedAt = f.LastReinforcedAt.UnixMilli()
	}
	if f.ValidUntil != nil {
		validUntil = f.ValidUntil.UnixMilli()
	}
	if f.SupersededAt != nil {
		supersededAt = f.SupersededAt.UnixMilli()
	}
	var supersedesID, supersededBy any
	if f.SupersedesID != nil {
		supersedesID = f.SupersedesID.String()
	}
	if f.SupersededBy != nil {
		supersededBy = f.SupersededBy.String()
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO facts (`+factColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID.String(), f.Text, f.Entity, f.Key, f.Value, f.Category, f.Summary, tagger.Serialize(f.Tags),
		f.Source, string(sessionsJSON), f.Importance, f.Confidence, string(f.DecayClass),
		expiresAt, lastConfirmedAt, f.RecallCount, lastAccessed,
		f.ReinforcedCount, lastReinforcedAt, string(quotesJSON),
		f.ValidFrom.UnixMilli(), validUntil, supersedesID, supersededAt, supersededBy,
		string(f.Tier), string(f.Scope), f.ScopeTarget, f.NormalizedHash, f.CreatedAt.UnixMilli(), f.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) factByHash(hash string) (*Fact, error) {
	var f *Fact
	err := s.withDB(func(db *sql.DB) error {
		row := db.QueryRow(`SELECT `+factColumns+` FROM facts WHERE normalized_hash = ? AND superseded_at IS NULL LIMIT 1`, hash)
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

// GetByID returns the fact with the given id, or nil if absent.
func (s *Store) GetByID(id ids.ID) (*Fact, error) {
	var f *Fact
	err := s.withDB(func(db *sql.DB) error {
		row := db.QueryRow(`SELECT `+factColumns+` FROM facts WHERE id = ?`, id.String())
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

// PrefixResult is the outcome of FindByIDPrefix.
type PrefixResult struct {
	Found      *Fact
	Ambiguous  bool
	MatchCount int
}

// FindByIDPrefix resolves a (possibly abbreviated) hex id prefix, per
// spec.md §8: prefixes shorter than 4 hex chars return nil; an exact single
// match returns that fact; multiple matches report ambiguity (capped at 3
// sample matches via MatchCount).
func (s *Store) FindByIDPrefix(prefix string) (*PrefixResult, error) {
	norm, err := ids.NormalizePrefix(prefix)
	if err != nil {
		return nil, nil
	}

	var result *PrefixResult
	err = s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT `+factColumns+` FROM facts WHERE REPLACE(id, '-', '') LIKE ? LIMIT 4`, norm+"%")
		if err != nil {
			return err
		}
		defer rows.Close()

		var matches []*Fact
		for rows.Next() {
			f, err := scanFact(rows)
			if err != nil {
				return err
			}
			matches = append(matches, f)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		switch len(matches) {
		case 0:
			result = nil
		case 1:
			result = &PrefixResult{Found: matches[0], MatchCount: 1}
		default:
			n := len(matches)
			if n > 3 {
				n = 3
			}
			result = &PrefixResult{Ambiguous: true, MatchCount: n}
		}
		return nil
	})
	return result, err
}

// quoteCap and quoteTrimLen bound the reinforcement-quote queue shared by
// facts and procedures (spec.md §3, §4.11): at most quoteCap snippets kept,
// each truncated to quoteTrimLen runes.
const (
	quoteCap     = 10
	quoteTrimLen = 200
)

// appendQuote appends quote to quotes, truncating it to quoteTrimLen runes
// and dropping the oldest entry once the queue exceeds quoteCap.
func appendQuote(quotes []string, quote string) []string {
	if quote == "" {
		return quotes
	}
	r := []rune(quote)
	if len(r) > quoteTrimLen {
		quote = string(r[:quoteTrimLen])
	}
	quotes = append(quotes, quote)
	if len(quotes) > quoteCap {
		quotes = quotes[len(quotes)-quoteCap:]
	}
	return quotes
}

// ReinforceFact appends an observed quote to a fact's reinforcement queue,
// bumping reinforced_count and stamping last_reinforced_at (spec.md §3,
// §8's round-trip law: n applications leave exactly min(10, n) quotes).
func (s *Store) ReinforceFact(id ids.ID, quote string) error {
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var quotesRaw string
		if err := tx.QueryRow(`SELECT reinforced_quotes FROM facts WHERE id = ?`, id.String()).Scan(&quotesRaw); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}

		quotes := parseOrDefault[[]string]("reinforced_quotes", []byte(quotesRaw))
		quotes = appendQuote(quotes, quote)
		quotesJSON, _ := json.Marshal(quotes)
		now := time.Now().UnixMilli()

		_, err = tx.Exec(`UPDATE facts SET reinforced_count = reinforced_count + 1,
			reinforced_quotes = ?, last_reinforced_at = ?, updated_at = ? WHERE id = ?`,
			string(quotesJSON), now, now, id.String())
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Delete permanently removes a fact by id.
func (s *Store) Delete(id ids.ID) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM facts WHERE id = ?`, id.String())
		if err != nil {
			return err
		}
		_, err = db.Exec(`DELETE FROM memory_links WHERE from_id = ? OR to_id = ?`, id.String(), id.String())
		return err
	})
}

// Confirm stamps last_confirmed_at = now on the given fact.
func (s *Store) Confirm(id ids.ID) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE facts SET last_confirmed_at = ?, updated_at = ? WHERE id = ?`,
			time.Now().UnixMilli(), time.Now().UnixMilli(), id.String())
		return err
	})
}

// SetTier moves a fact to a new tier.
func (s *Store) SetTier(id ids.ID, tier Tier) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE facts SET tier = ?, updated_at = ? WHERE id = ?`, string(tier), time.Now().UnixMilli(), id.String())
		return err
	})
}

// PruneExpired deletes every fact whose expires_at has passed, returning the
// count removed.
func (s *Store) PruneExpired() (int64, error) {
	var n int64
	err := s.withDB(func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM facts WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// PruneScope deletes all facts in the given scope (and, for non-global
// scopes, the given target).
func (s *Store) PruneScope(scope Scope, target string) (int64, error) {
	var n int64
	err := s.withDB(func(db *sql.DB) error {
		var res sql.Result
		var err error
		if scope == ScopeGlobal {
			res, err = db.Exec(`DELETE FROM facts WHERE scope = 'global'`)
		} else {
			res, err = db.Exec(`DELETE FROM facts WHERE scope = ? AND scope_target = ?`, string(scope), target)
		}
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// DecayConfidence multiplies every non-permanent, non-superseded fact's
// confidence by factor (clamped to [0,1]), modeling gradual trust decay for
// facts that have gone unconfirmed.
func (s *Store) DecayConfidence(factor float64) (int64, error) {
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	var n int64
	err := s.withDB(func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE facts SET confidence = MAX(0, MIN(1, confidence * ?))
			WHERE decay_class != 'permanent' AND superseded_at IS NULL`, factor)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// ListOptions narrows List/GetAll.
type ListOptions struct {
	Scope             *ScopeFilter
	IncludeSuperseded bool
	IncludeExpired    bool
	Tier              Tier
	Tag               string
	Limit             int

	// AsOf, when set, switches to the bi-temporal point-in-time view
	// (spec.md §4.9): rows are filtered by valid_from <= AsOf AND
	// (valid_until IS NULL OR valid_until > AsOf), overriding the default
	// hide-superseded/hide-expired behavior entirely.
	AsOf *time.Time
}

// List returns facts matching opts, most recently created first.
func (s *Store) List(opts ListOptions) ([]*Fact, error) {
	where, args := listWhere(opts)
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*Fact
	err := s.withDB(func(db *sql.DB) error {
		q := `SELECT ` + factColumns + ` FROM facts WHERE ` + where + ` ORDER BY created_at DESC LIMIT ?`
		rows, err := db.Query(q, append(args, limit)...)
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

// GetAll is List without a limit cap, for small maintenance sweeps
// (compaction, telemetry) that need the whole matching set.
func (s *Store) GetAll(opts ListOptions) ([]*Fact, error) {
	opts.Limit = 1 << 30
	return s.List(opts)
}

func listWhere(opts ListOptions) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if opts.AsOf != nil {
		asOf := opts.AsOf.UnixMilli()
		clauses = append(clauses, "valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)")
		args = append(args, asOf, asOf)
	} else {
		if !opts.IncludeSuperseded {
			clauses = append(clauses, "superseded_at IS NULL")
		}
		if !opts.IncludeExpired {
			clauses = append(clauses, "(expires_at IS NULL OR expires_at > ?)")
			args = append(args, time.Now().UnixMilli())
		}
	}
	if opts.Tier != "" {
		clauses = append(clauses, "tier = ?")
		args = append(args, string(opts.Tier))
	}
	if opts.Tag != "" {
		clauses = append(clauses, "tags LIKE ?")
		args = append(args, "%,"+opts.Tag+",%")
	}
	if opts.Scope != nil {
		frag, fargs := opts.Scope.fragment()
		clauses = append(clauses, frag)
		args = append(args, fargs...)
	}
	return strings.Join(clauses, " AND "), args
}
