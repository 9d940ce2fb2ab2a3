// Package memory implements the hybrid long-term memory engine: a fact
// store with bi-temporal supersession, decay-driven expiry, salience
// ranking, a typed memory-link graph, procedural memory, and an encrypted
// credential vault, all fronted by one Engine so callers never touch the
// component packages directly.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/decay"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/langres"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/salience"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/store"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/vault"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/vectorstore"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/walog"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/pkg/chatapi"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/pkg/embedder"

	_ "github.com/ncruces/go-sqlite3/driver"
)

// Engine is the sole caller of internal/store, internal/vectorstore, and
// internal/walog (spec.md §4.13). Safe for concurrent use: every method
// delegates to a collaborator that already handles its own concurrency.
type Engine struct {
	store   *store.Store
	vectors *vectorstore.Store
	wal     *walog.Log
	vault   *vault.Vault

	embedder embedder.Embedder
	chat     chatapi.Chat
	chatModel string

	fuzzyDedup bool
	weights    salience.Weights
}

// Open wires every subsystem named in cfg, runs WAL recovery, and returns a
// ready engine.
func Open(cfg Config) (*Engine, error) {
	if cfg.WALPath == "" {
		return nil, fmt.Errorf("memory: Config.WALPath is required")
	}
	if cfg.Embedder != nil && cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("memory: Config.VectorDim is required when Config.Embedder is set")
	}

	st, err := store.Open(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("memory: open store: %w", err)
	}

	vaultDB := st.DB()
	if cfg.VaultDSN != "" && cfg.VaultDSN != cfg.DSN {
		vaultDB, err = sql.Open("sqlite3", cfg.VaultDSN)
		if err != nil {
			return nil, fmt.Errorf("memory: open vault db: %w", err)
		}
	}
	vlt, err := vault.Open(vaultDB, cfg.VaultPassword)
	if err != nil {
		return nil, fmt.Errorf("memory: open vault: %w", err)
	}

	var vs *vectorstore.Store
	var emb embedder.Embedder
	if cfg.Embedder != nil {
		vs = vectorstore.Open(st.DB(), cfg.VectorDim)
		retry := cfg.EmbedderRetry
		if retry.MaxElapsedTime == 0 {
			retry = embedder.DefaultRetryOptions()
		}
		emb = embedder.WithRetry(cfg.Embedder, retry)
	}

	var chat chatapi.Chat
	if cfg.Chat != nil {
		retry := cfg.ChatRetry
		if retry.MaxElapsedTime == 0 {
			retry = chatapi.DefaultRetryOptions()
		}
		if len(retry.FallbackModels) == 0 {
			retry.FallbackModels = cfg.FallbackModels
		}
		chat = chatapi.WithRetry(cfg.Chat, retry)
	}

	weights := salience.DefaultWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}

	if len(cfg.LangResources) > 0 {
		res, err := langres.Load(cfg.LangResources)
		if err != nil {
			return nil, fmt.Errorf("memory: load language resources: %w", err)
		}
		st.SetClassifier(decay.New(res))
	}

	e := &Engine{
		store:      st,
		vectors:    vs,
		wal:        walog.Open(cfg.WALPath),
		vault:      vlt,
		embedder:   emb,
		chat:       chat,
		chatModel:  cfg.ChatModel,
		fuzzyDedup: cfg.FuzzyDedup,
		weights:    weights,
	}

	if err := e.recoverWAL(); err != nil {
		return nil, fmt.Errorf("memory: WAL recovery: %w", err)
	}
	return e, nil
}

// Close releases the engine's underlying connection.
func (e *Engine) Close() error {
	if e.vectors != nil {
		_ = e.vectors.Close()
	}
	return e.store.Close()
}

// Vault exposes the credential vault directly; its own interface already
// matches spec.md §6's vault contract one-to-one.
func (e *Engine) Vault() *vault.Vault { return e.vault }

// walFactPayload is the WAL record shape for a fact store/update
// (spec.md §4.3, §4.13).
type walFactPayload struct {
	ID    string    `json:"id"`
	Input FactInput `json:"input"`
}

// recoverWAL replays every valid surviving WAL entry against the store and
// vector index, idempotently, then tombstones what it replayed and
// compacts the log (spec.md §4.3's recovery protocol).
func (e *Engine) recoverWAL() error {
	entries, err := e.wal.GetValidEntries(walog.DefaultMaxAge)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.replayEntry(entry); err != nil {
			fmt.Printf("[memory] WAL replay failed for %s, leaving entry for next open: %v\n", entry.ID, err)
			continue
		}
		if err := e.wal.Tombstone(entry.ID); err != nil {
			return err
		}
	}
	return e.wal.PruneStale()
}

func (e *Engine) replayEntry(entry walog.Entry) error {
	switch entry.Operation {
	case walog.OpStore, walog.OpUpdate:
		var payload walFactPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		id, err := ids.Parse(payload.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		payload.Input.PresetID = &id
		f, err := e.store.StoreFact(payload.Input, false)
		if err != nil {
			return err
		}
		return e.upsertVector(f)
	case walog.OpDelete:
		id, err := ids.Parse(entry.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		if err := e.store.Delete(id); err != nil {
			return err
		}
		if e.vectors != nil {
			e.vectors.Delete(id.String())
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrCorruptEntry, entry.Operation)
	}
}

// Store is the write path's entry point (spec.md §4.13 step 1): the WAL
// entry is appended before the fact is committed to the relational store,
// and tombstoned only once both it and its vector twin (if any) succeed,
// so a crash between the two leaves a replayable record rather than a
// half-written fact.
func (e *Engine) Store(in FactInput) (*Fact, error) {
	id := ids.New()
	in.PresetID = &id

	payload, err := json.Marshal(walFactPayload{ID: id.String(), Input: in})
	if err != nil {
		return nil, err
	}
	if err := e.wal.Append(walog.Entry{
		ID:        id.String(),
		Timestamp: time.Now().UnixMilli(),
		Operation: walog.OpStore,
		Payload:   payload,
	}); err != nil {
		return nil, fmt.Errorf("memory: WAL append: %w", err)
	}

	f, err := e.store.StoreFact(in, e.fuzzyDedup)
	if err != nil {
		return nil, err
	}
	if err := e.upsertVector(f); err != nil {
		return nil, err
	}
	if err := e.wal.Tombstone(id.String()); err != nil {
		return nil, fmt.Errorf("memory: WAL tombstone: %w", err)
	}
	return f, nil
}

// upsertVector embeds f's text and writes it to the vector store, if an
// embedder is configured. A no-op when it isn't (spec.md §4.13 step 1c).
func (e *Engine) upsertVector(f *Fact) error {
	if e.embedder == nil || e.vectors == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	vec, err := e.embedder.Embed(ctx, f.Text)
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}
	return e.vectors.Store(vectorstore.Row{
		ID:         f.ID.String(),
		Text:       f.Text,
		Vector:     vec,
		Importance: f.Importance,
		Category:   f.Category,
		CreatedAt:  f.CreatedAt.UnixMilli(),
	})
}

// Delete removes a fact and its vector twin, WAL-protected the same way
// Store is.
func (e *Engine) Delete(id ids.ID) error {
	if err := e.wal.Append(walog.Entry{
		ID:        id.String(),
		Timestamp: time.Now().UnixMilli(),
		Operation: walog.OpDelete,
	}); err != nil {
		return fmt.Errorf("memory: WAL append: %w", err)
	}
	if err := e.store.Delete(id); err != nil {
		return err
	}
	if e.vectors != nil {
		e.vectors.Delete(id.String())
	}
	return e.wal.Tombstone(id.String())
}

// Search runs the read path (spec.md §4.13 step 2): FTS always runs;
// vector search runs alongside it when an embedder is configured and
// opts.Vector is set. Results are merged by id (C1's row always wins),
// vector-only hits are filtered against the superseded-texts cache, the
// merged set is salience-scored, and co-returned pairs in the final top-k
// get their RELATED_TO edge strengthened (the testable property of
// spec.md §8: any two facts repeatedly co-recalled accumulate a link).
func (e *Engine) Search(ctx context.Context, query string, opts SearchOpts) ([]ScoredFact, error) {
	storeOpts := opts.storeOptions()
	ftsResults, err := e.store.Search(query, storeOpts)
	if err != nil {
		return nil, err
	}

	merged := make(map[ids.ID]ScoredFact, len(ftsResults))
	for _, r := range ftsResults {
		merged[r.Fact.ID] = r
	}

	if opts.Vector && e.embedder != nil && e.vectors != nil {
		vec, err := e.embedder.Embed(ctx, query)
		if err == nil {
			matches := e.vectors.Search(vec, limitOrDefault(opts.Limit), opts.minVectorScore())
			superseded, _ := e.store.GetSupersededTexts()
			for _, m := range matches {
				fid, err := ids.Parse(m.ID)
				if err != nil {
					continue
				}
				if _, already := merged[fid]; already {
					continue
				}
				f, err := e.store.GetByID(fid)
				if err != nil || f == nil {
					continue
				}
				if superseded[strings.ToLower(strings.TrimSpace(f.Text))] {
					continue
				}
				weights := e.weights
				if opts.Weights != nil {
					weights = *opts.Weights
				}
				score := salience.Score(salience.CandidateInputs{
					BM25Norm:      m.Score,
					Freshness:     salience.Freshness(f.ExpiresAt, time.Now()),
					Confidence:    f.Confidence,
					ReinforcedCnt: f.ReinforcedCount,
					RecallCount:   f.RecallCount,
					LastAccessed:  f.LastAccessed,
					Now:           time.Now(),
				}, weights)
				merged[fid] = ScoredFact{Fact: f, Score: score}
			}
		}
	}

	out := make([]ScoredFact, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	limit := limitOrDefault(opts.Limit)
	if len(out) > limit {
		out = out[:limit]
	}

	e.strengthenCoRecalled(out)

	touched := make([]string, len(out))
	for i, sf := range out {
		touched[i] = sf.Fact.ID.String()
	}
	go func() {
		if err := e.store.RefreshAccessedFacts(touched); err != nil {
			fmt.Printf("[memory] refreshAccessedFacts failed: %v\n", err)
		}
	}()

	return out, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

// strengthenCoRecalled reinforces the RELATED_TO edge between every pair of
// facts returned together in one search's top-k (spec.md §4.13 step 1e,
// §8). Capped at the first 10 results so a large top-k doesn't blow up
// into O(k^2) writes.
func (e *Engine) strengthenCoRecalled(results []ScoredFact) {
	n := len(results)
	if n > 10 {
		n = 10
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if err := e.store.StrengthenRelated(results[i].Fact.ID, results[j].Fact.ID); err != nil {
				fmt.Printf("[memory] strengthenRelated failed: %v\n", err)
			}
		}
	}
}

// Lookup matches facts by exact (entity, key), scored by confidence rather
// than BM25 (spec.md §4.7's lookup path).
func (e *Engine) Lookup(entity, key string, opts LookupOptions) ([]ScoredFact, error) {
	return e.store.Lookup(entity, key, opts)
}

// List returns facts matching opts, most recently created first.
func (e *Engine) List(opts ListOptions) ([]*Fact, error) { return e.store.List(opts) }

// GetAll is List without a limit cap, for maintenance sweeps.
func (e *Engine) GetAll(opts ListOptions) ([]*Fact, error) { return e.store.GetAll(opts) }

// GetByID resolves a full or abbreviated (>=4 hex chars) id. A short
// prefix that uniquely matches resolves transparently; an ambiguous one
// returns ErrAmbiguousPrefix; too-short returns ErrPrefixTooShort.
func (e *Engine) GetByID(idOrPrefix string) (*Fact, error) {
	if id, err := ids.Parse(idOrPrefix); err == nil {
		return e.store.GetByID(id)
	}
	if _, err := ids.NormalizePrefix(idOrPrefix); err == ids.ErrPrefixTooShort {
		return nil, ErrPrefixTooShort
	}
	res, err := e.store.FindByIDPrefix(idOrPrefix)
	if err != nil {
		if err == ids.ErrPrefixTooShort {
			return nil, ErrPrefixTooShort
		}
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	if res.Ambiguous {
		return nil, ErrAmbiguousPrefix
	}
	return res.Found, nil
}

// Supersede marks oldID as superseded by newID.
func (e *Engine) Supersede(oldID, newID ids.ID) error { return e.store.Supersede(oldID, newID) }

// Confirm stamps last_confirmed_at on id.
func (e *Engine) Confirm(id ids.ID) error { return e.store.Confirm(id) }

// SetTier moves a fact to a new tier.
func (e *Engine) SetTier(id ids.ID, tier Tier) error { return e.store.SetTier(id, tier) }

// PromoteScope updates a fact's scope/scope_target atomically.
func (e *Engine) PromoteScope(id ids.ID, newScope Scope, newTarget string) error {
	return e.store.PromoteScope(id, newScope, newTarget)
}

// PruneExpired deletes every fact whose expiry has passed.
func (e *Engine) PruneExpired() (int64, error) { return e.store.PruneExpired() }

// PruneScope deletes all facts (and procedures, via PruneSessionScope for
// the session case) in the given scope.
func (e *Engine) PruneScope(scope Scope, target string) (int64, error) {
	if scope == store.ScopeSession {
		return e.store.PruneSessionScope(target)
	}
	return e.store.PruneScope(scope, target)
}

// DecayConfidence multiplies every non-permanent fact's confidence by
// factor.
func (e *Engine) DecayConfidence(factor float64) (int64, error) { return e.store.DecayConfidence(factor) }

// Reinforce appends an observed quote to a fact's reinforcement queue,
// bumping its reinforced count (spec.md §3).
func (e *Engine) Reinforce(id ids.ID, quote string) error {
	return e.store.ReinforceFact(id, quote)
}

// RunCompaction re-tiers facts into hot/warm/cold per spec.md §4.10.
func (e *Engine) RunCompaction(opts CompactionOptions) (*CompactionResult, error) {
	return e.store.RunCompaction(opts)
}

// GetHotFacts returns hot-tier facts packed within maxTokens.
func (e *Engine) GetHotFacts(maxTokens int) ([]*Fact, error) { return e.store.GetHotFacts(maxTokens) }

// CreateLink inserts a typed edge between two facts.
func (e *Engine) CreateLink(fromID, toID ids.ID, linkType LinkType, strength float64) (*MemoryLink, error) {
	return e.store.CreateLink(fromID, toID, linkType, strength)
}

// GetLinksFrom returns every edge originating at id.
func (e *Engine) GetLinksFrom(id ids.ID) ([]*MemoryLink, error) { return e.store.GetLinksFrom(id) }

// GetLinksTo returns every edge terminating at id.
func (e *Engine) GetLinksTo(id ids.ID) ([]*MemoryLink, error) { return e.store.GetLinksTo(id) }

// GetConnectedFactIds performs a bidirectional BFS over the link graph.
func (e *Engine) GetConnectedFactIds(start ids.ID, maxDepth int) ([]ids.ID, error) {
	return e.store.GetConnectedFactIds(start, maxDepth)
}

// UniqueScopes enumerates every distinct (scope, scope_target) pair
// present across facts and procedures.
func (e *Engine) UniqueScopes() ([]ScopePair, error) { return e.store.UniqueScopes() }
