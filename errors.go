package memory

import (
	"errors"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/store"
	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/vault"
)

// Sentinel errors the facade surfaces directly (spec.md §7). Store- and
// vault-level errors are re-exported rather than wrapped so callers can
// keep using errors.Is against a single import.
var (
	ErrInvalidScope      = store.ErrInvalidScope
	ErrGlobalHasTarget   = store.ErrGlobalHasTarget
	ErrAlreadySuperseded = store.ErrAlreadySuperseded
	ErrNotFound          = store.ErrNotFound
	ErrAmbiguousPrefix   = store.ErrAmbiguousPrefix
	ErrPrefixTooShort    = ids.ErrPrefixTooShort

	// ErrVaultModeMismatch is returned by Open when the vault file already
	// holds encrypted rows but no vault password was configured — the vault
	// refuses to open rather than silently coercing mode (spec.md §7's
	// Security error class). A password supplied for a vault marked
	// plaintext is ignored, not rejected.
	ErrVaultModeMismatch = vault.ErrNoKeyForEncrypted
	ErrWrongVaultKey     = vault.ErrWrongKey

	// ErrCorruptEntry marks a WAL record that could not be replayed
	// because its payload failed to unmarshal against any known shape.
	// Recovery logs and skips it rather than aborting the whole replay.
	ErrCorruptEntry = errors.New("memory: corrupt WAL entry")

	// ErrNoEmbedder names the no-Embedder condition. No Engine method
	// returns it: without an Embedder, Search ignores SearchOpts.Vector and
	// Store skips the vector write.
	ErrNoEmbedder = errors.New("memory: no embedder configured")

	// ErrNoChat is returned by StoreClassified when the engine was opened
	// without a Chat collaborator.
	ErrNoChat = errors.New("memory: no chat model configured")
)
