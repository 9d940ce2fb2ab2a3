package memory

import (
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

// ProcedureAPI groups the procedural-memory operations (spec.md §4.11,
// §6). Obtained via Engine.Procedures(); it shares the engine's store
// connection rather than opening its own.
type ProcedureAPI struct {
	e *Engine
}

// Procedures returns the procedural-memory handle.
func (e *Engine) Procedures() *ProcedureAPI { return &ProcedureAPI{e: e} }

// Upsert inserts a new procedure, or returns the existing one unchanged if
// (task_pattern, scope, scope_target) already matches a row.
func (p *ProcedureAPI) Upsert(in ProcedureInput) (*Procedure, error) {
	return p.e.store.UpsertProcedure(in)
}

// SearchRanked ranks positive procedures matching query by the composite
// formula of spec.md §4.11.
func (p *ProcedureAPI) SearchRanked(query string, scope ScopeFilter, limit int) ([]ScoredProcedure, error) {
	return p.e.store.SearchProceduresRanked(query, scope, limit)
}

// RecordSuccess bumps a procedure's success count (deduplicated per
// session) and recomputes confidence.
func (p *ProcedureAPI) RecordSuccess(id ids.ID, sessionID string) error {
	return p.e.store.RecordSuccess(id, sessionID)
}

// RecordFailure is RecordSuccess's mirror for failed applications.
func (p *ProcedureAPI) RecordFailure(id ids.ID, sessionID string) error {
	return p.e.store.RecordFailure(id, sessionID)
}

// Reinforce appends an observed quote and auto-promotes the procedure to a
// skill once it crosses the promotion threshold.
func (p *ProcedureAPI) Reinforce(id ids.ID, quote string) error {
	return p.e.store.Reinforce(id, quote)
}

// MarkPromoted explicitly records a procedure's generated skill path.
func (p *ProcedureAPI) MarkPromoted(id ids.ID, skillPath string) error {
	return p.e.store.MarkPromoted(id, skillPath)
}

// GetStale returns positive procedures unvalidated longer than the
// staleness threshold.
func (p *ProcedureAPI) GetStale() ([]*Procedure, error) { return p.e.store.GetStale() }

// GetReadyForSkill returns positive procedures crossing the promotion
// threshold but not yet promoted.
func (p *ProcedureAPI) GetReadyForSkill() ([]*Procedure, error) { return p.e.store.GetReadyForSkill() }

// GetNegativeMatching returns negative ("do-not-do-this") procedures whose
// task_pattern matches pattern, for warning callers before a known-bad
// approach is repeated.
func (p *ProcedureAPI) GetNegativeMatching(pattern string, scope ScopeFilter) ([]*Procedure, error) {
	return p.e.store.GetNegativeProceduresMatching(pattern, scope)
}
