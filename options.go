package memory

import (
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/salience"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/store"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/vectorstore"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/pkg/chatapi"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/pkg/embedder"
)

// Re-exported data-model and option types. These are aliases, not copies:
// internal/store already shapes them exactly as spec.md §3/§4 describe, and
// aliasing here keeps one definition instead of a parallel conversion layer
// the facade would otherwise have to keep in sync by hand.
type (
	Fact         = store.Fact
	FactInput    = store.FactInput
	Procedure    = store.Procedure
	ProcedureInput = store.ProcedureInput
	MemoryLink   = store.MemoryLink

	Scope    = store.Scope
	Tier     = store.Tier
	LinkType = store.LinkType

	ScopeFilter = store.ScopeFilter
	ScopePair   = store.ScopePair

	ListOptions      = store.ListOptions
	SearchOptions     = store.SearchOptions
	LookupOptions     = store.LookupOptions
	CompactionOptions = store.CompactionOptions
	CompactionResult  = store.CompactionResult
	PrefixResult      = store.PrefixResult

	ScoredFact      = store.ScoredFact
	ScoredProcedure = store.ScoredProcedure

	Weights = salience.Weights
)

const (
	ScopeGlobal  = store.ScopeGlobal
	ScopeUser    = store.ScopeUser
	ScopeAgent   = store.ScopeAgent
	ScopeSession = store.ScopeSession

	TierHot  = store.TierHot
	TierWarm = store.TierWarm
	TierCold = store.TierCold

	LinkSupersedes = store.LinkSupersedes
	LinkCausedBy   = store.LinkCausedBy
	LinkPartOf     = store.LinkPartOf
	LinkRelatedTo  = store.LinkRelatedTo
	LinkDependsOn  = store.LinkDependsOn
)

// Config wires the engine's collaborators and storage paths (spec.md §6).
// Embedder and Chat are both optional: without an Embedder, search runs
// FTS-only and StoreFact never touches the vector store; without Chat,
// StoreClassified is unavailable.
type Config struct {
	// DSN is the relational+FTS+vector SQLite file (":memory:" for an
	// ephemeral engine).
	DSN string
	// WALPath is the write-ahead log file. Required.
	WALPath string
	// VaultDSN, if empty, reuses DSN's connection for the credential
	// vault. Set to a distinct path to keep credentials in a separate
	// file (spec.md §6).
	VaultDSN string
	// VaultPassword, if empty, opens the vault in plaintext mode.
	VaultPassword string

	// Embedder, if set, is wrapped with its package's retry/fallback
	// decorator and enables vector search and vector writes.
	Embedder   embedder.Embedder
	EmbedderRetry embedder.RetryOptions
	// VectorDim must be set when Embedder is set (spec.md §6: 1536 or
	// 3072 depending on the embedder).
	VectorDim int

	// Chat, if set, is wrapped the same way and enables StoreClassified.
	Chat          chatapi.Chat
	ChatRetry     chatapi.RetryOptions
	ChatModel     string
	FallbackModels []string

	// FuzzyDedup enables StoreFact's normalized-hash dedup check
	// (spec.md §4.1).
	FuzzyDedup bool

	// LangResources optionally overlays the embedded English-only decay
	// keyword/regex sets with a caller-supplied language pack (spec.md §6,
	// §9), applied to the decay classifier at Open time.
	LangResources []byte

	// Weights overrides the salience formula's tunable coefficients; nil
	// uses salience.DefaultWeights().
	Weights *Weights
}

// SearchOpts narrows Engine.Search beyond what store.SearchOptions covers:
// whether to also consult the vector store, alongside the usual scope/tag/
// limit/as-of filters (spec.md §4.13's read path).
type SearchOpts struct {
	Scope   ScopeFilter
	Tag     string
	Limit   int
	AsOf    *time.Time
	Weights *Weights

	// Vector requests the parallel C2 ANN search (spec.md §4.13 step 2b).
	// Ignored if the engine has no embedder.
	Vector bool
	// MinVectorScore overrides vectorstore.DefaultMinScore for this call.
	MinVectorScore float64
}

func (o SearchOpts) storeOptions() store.SearchOptions {
	return store.SearchOptions{Scope: o.Scope, Tag: o.Tag, Limit: o.Limit, AsOf: o.AsOf, Weights: o.Weights}
}

func (o SearchOpts) minVectorScore() float64 {
	if o.MinVectorScore > 0 {
		return o.MinVectorScore
	}
	return vectorstore.DefaultMinScore
}
