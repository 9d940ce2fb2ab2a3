package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

// ScopeFilter restricts visibility to global rows plus rows scoped to the
// caller's trusted runtime identity (spec.md §4.12). It must be derived
// from trusted identity, never from caller-supplied parameters of a
// memory-recall tool — that invariant is enforced by callers of this
// package, not by the type itself.
type ScopeFilter struct {
	UserID    string
	AgentID   string
	SessionID string
}

// fragment compiles f into a SQL boolean expression plus its positional
// arguments. Absent fields contribute no clauses; identity values are
// always passed as bound arguments, never interpolated into the SQL text.
func (f ScopeFilter) fragment() (string, []any) {
	clause := "scope = 'global'"
	var args []any

	if f.UserID != "" {
		clause += " OR (scope = 'user' AND scope_target = ?)"
		args = append(args, f.UserID)
	}
	if f.AgentID != "" {
		clause += " OR (scope = 'agent' AND scope_target = ?)"
		args = append(args, f.AgentID)
	}
	if f.SessionID != "" {
		clause += " OR (scope = 'session' AND scope_target = ?)"
		args = append(args, f.SessionID)
	}
	return "(" + clause + ")", args
}

// validateScope enforces invariant 3 of spec.md §3: non-global scope
// requires a non-empty scope_target, and global scope must not carry one.
func validateScope(scope Scope, target string) error {
	if scope == "" {
		scope = ScopeGlobal
	}
	if scope == ScopeGlobal {
		if target != "" {
			return ErrGlobalHasTarget
		}
		return nil
	}
	if target == "" {
		return ErrInvalidScope
	}
	return nil
}

// PruneSessionScope deletes every row (facts and procedures) scoped to
// sessionID, returning the total rows removed.
func (s *Store) PruneSessionScope(sessionID string) (int64, error) {
	var affected int64
	err := s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, table := range []string{"facts", "procedures"} {
			res, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE scope = 'session' AND scope_target = ?`, table), sessionID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			affected += n
		}
		return tx.Commit()
	})
	return affected, err
}

// PromoteScope atomically changes a fact's scope and scope_target.
func (s *Store) PromoteScope(id ids.ID, newScope Scope, newTarget string) error {
	if err := validateScope(newScope, newTarget); err != nil {
		return err
	}
	return s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE facts SET scope = ?, scope_target = ?, updated_at = ? WHERE id = ?`,
			string(newScope), newTarget, time.Now().UnixMilli(), id.String())
		return err
	})
}

// ScopePair is one distinct (scope, scope_target) combination present in
// the store.
type ScopePair struct {
	Scope  Scope
	Target string
}

// UniqueScopes enumerates every distinct (scope, scope_target) pair present
// across facts and procedures.
func (s *Store) UniqueScopes() ([]ScopePair, error) {
	var out []ScopePair
	err := s.withDB(func(db *sql.DB) error {
		seen := map[ScopePair]bool{}
		for _, table := range []string{"facts", "procedures"} {
			rows, err := db.Query(fmt.Sprintf(`SELECT DISTINCT scope, scope_target FROM %s`, table))
			if err != nil {
				return err
			}
			for rows.Next() {
				var sc, tgt string
				if err := rows.Scan(&sc, &tgt); err != nil {
					rows.Close()
					return err
				}
				p := ScopePair{Scope: Scope(sc), Target: tgt}
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()
		}
		return nil
	})
	return out, err
}
