// Package ids provides the opaque 128-bit identifiers used across the
// engine for facts, procedures, links, and credential entries.
package ids

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier, stable for the lifetime of the row
// it names.
type ID [16]byte

// Nil is the zero ID, used to mean "no id" where a pointer would be overkill.
var Nil ID

// New allocates a fresh, time-ordered ID (UUIDv7, so lexicographic and
// insertion order agree closely enough to serve as a tie-breaker-of-last-resort).
func New() ID {
	u, err := uuid.NewV7()
	if err != nil {
		// crypto/rand failure; fall back to a random v4 rather than panic.
		u = uuid.New()
	}
	return ID(u)
}

// String renders the canonical hyphenated hex form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil ID.
func (id ID) IsZero() bool {
	return id == Nil
}

// Parse parses a canonical or bare-hex string into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

// ErrPrefixTooShort is returned by NormalizePrefix when the caller supplies
// fewer than 4 hex characters, the minimum this engine treats as safe to
// disambiguate.
var ErrPrefixTooShort = errors.New("ids: prefix must be at least 4 hex characters")

// MinPrefixLen is the shortest prefix NormalizePrefix will accept.
const MinPrefixLen = 4

// NormalizePrefix lower-cases and strips hyphens from a caller-supplied
// id prefix, validating its minimum length. Callers use the result to
// build a `LIKE prefix || '%'`-style lookup (with hyphens stripped from the
// stored hex too) or to compare directly against hex-encoded id columns.
func NormalizePrefix(prefix string) (string, error) {
	p := strings.ToLower(strings.ReplaceAll(prefix, "-", ""))
	if len(p) < MinPrefixLen {
		return "", ErrPrefixTooShort
	}
	for _, r := range p {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return "", errors.New("ids: prefix must be hex")
		}
	}
	return p, nil
}

// Hex returns the id as a bare (no hyphens) lowercase hex string, the form
// stored and prefix-matched against in the relational store.
func (id ID) Hex() string {
	return strings.ReplaceAll(uuid.UUID(id).String(), "-", "")
}

// MarshalJSON renders id as its canonical hyphenated string, so WAL
// payloads and any other JSON-encoded id stay human-readable instead of
// falling back to the default byte-array encoding.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses id from its canonical string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
