package store

import (
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/decay"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

// Scope is the visibility partition a Fact or Procedure belongs to.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeUser    Scope = "user"
	ScopeAgent   Scope = "agent"
	ScopeSession Scope = "session"
)

// Tier is a fact's hot/warm/cold classification (spec.md §4.10).
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// LinkType is the typed relationship a MemoryLink carries (spec.md §3).
type LinkType string

const (
	LinkSupersedes LinkType = "SUPERSEDES"
	LinkCausedBy   LinkType = "CAUSED_BY"
	LinkPartOf     LinkType = "PART_OF"
	LinkRelatedTo  LinkType = "RELATED_TO"
	LinkDependsOn  LinkType = "DEPENDS_ON"
)

// Fact is the atomic unit of stored memory (spec.md §3).
type Fact struct {
	ID ids.ID

	Text     string
	Entity   string
	Key      string
	Value    string
	Category string
	Summary  string
	Tags     []string

	Source         string
	SourceSessions []string

	Importance float64
	Confidence float64

	DecayClass      decay.Class
	ExpiresAt       *time.Time
	LastConfirmedAt *time.Time

	RecallCount  int
	LastAccessed *time.Time

	ReinforcedCount  int
	LastReinforcedAt *time.Time
	ReinforcedQuotes []string

	ValidFrom    time.Time
	ValidUntil   *time.Time
	SupersedesID *ids.ID
	SupersededAt *time.Time
	SupersededBy *ids.ID

	Tier Tier

	Scope       Scope
	ScopeTarget string

	NormalizedHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsVisible reports whether f passes invariant 1 of spec.md §3 at instant
// now: not superseded, and not expired.
func (f *Fact) IsVisible(now time.Time) bool {
	if f.SupersededAt != nil {
		return false
	}
	if f.ExpiresAt != nil && !f.ExpiresAt.After(now) {
		return false
	}
	return true
}

// ValidAt reports whether f was true at instant t, per the bi-temporal
// point-in-time query semantics of spec.md §4.9.
func (f *Fact) ValidAt(t time.Time) bool {
	if f.ValidFrom.After(t) {
		return false
	}
	if f.ValidUntil != nil && !f.ValidUntil.After(t) {
		return false
	}
	return true
}

// FactInput is the caller-supplied shape for Store.StoreFact; server-assigned
// fields (ID, timestamps, defaults) are filled in by the store.
type FactInput struct {
	Text     string
	Entity   string
	Key      string
	Value    string
	Category string
	Summary  string
	Tags     []string

	Source         string
	SourceSessions []string

	Importance *float64
	Confidence *float64

	DecayClass *decay.Class
	SourceDate *time.Time

	SupersedesID *ids.ID

	Tier *Tier

	Scope       Scope
	ScopeTarget string

	// PresetID, when set, is used as the fact's id instead of generating a
	// fresh one. The facade sets this on the replay/WAL-coordinated write
	// path so the id committed to the WAL entry matches the id committed
	// to this row (spec.md §4.13's write path).
	PresetID *ids.ID
}

// ProcedureType distinguishes a positive (do-this) recipe from a negative
// (do-not-do-this) one.
type ProcedureType string

const (
	ProcedurePositive ProcedureType = "positive"
	ProcedureNegative ProcedureType = "negative"
)

// Procedure is a reusable recipe with success/failure tracking (spec.md §3).
type Procedure struct {
	ID ids.ID

	TaskPattern string
	RecipeJSON  string
	Type        ProcedureType

	SuccessCount    int
	FailureCount    int
	SuccessSessions []string
	FailureSessions []string
	LastValidated   *time.Time
	LastFailed      *time.Time
	Confidence      float64

	TTLDays         int
	PromotedToSkill bool
	SkillPath       string
	PromotedAt      *time.Time

	ReinforcedCount  int
	ReinforcedQuotes []string

	Scope       Scope
	ScopeTarget string

	SourceSessions []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcedureInput is the caller-supplied shape for UpsertProcedure.
type ProcedureInput struct {
	TaskPattern string
	RecipeJSON  string
	Type        ProcedureType
	TTLDays     *int
	Scope       Scope
	ScopeTarget string
}

// MemoryLink is a typed, directed, weighted edge between two facts
// (spec.md §3).
type MemoryLink struct {
	ID        ids.ID
	FromID    ids.ID
	ToID      ids.ID
	LinkType  LinkType
	Strength  float64
	CreatedAt time.Time
}

// clampConfidence clamps a procedure confidence value into [0.1, 0.95], the
// invariant spec.md §3 and §8 require.
func clampConfidence(success, failure int) float64 {
	v := 0.5 + 0.1*float64(success-failure)
	if v < 0.1 {
		return 0.1
	}
	if v > 0.95 {
		return 0.95
	}
	return v
}
