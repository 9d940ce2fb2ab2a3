// Package decay classifies facts into lifetime buckets and derives their
// expiry from that bucket.
package decay

import (
	"regexp"
	"strings"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/langres"
)

// Class is a fact's lifetime bucket.
type Class string

const (
	ClassPermanent  Class = "permanent"
	ClassStable     Class = "stable"
	ClassActive     Class = "active"
	ClassSession    Class = "session"
	ClassCheckpoint Class = "checkpoint"
)

// TTL maps a decay class to its lifetime. A zero duration paired with
// permanent means "never expires" (callers must special-case ClassPermanent
// rather than relying on the zero value, since 0 is also a valid-looking
// "expire immediately").
var TTL = map[Class]time.Duration{
	ClassSession:    2 * time.Hour,
	ClassActive:     14 * 24 * time.Hour,
	ClassCheckpoint: 3 * 24 * time.Hour,
	ClassStable:     180 * 24 * time.Hour,
}

// Input is the tuple the classifier inspects. Entity/Key/Value are the
// optional normalized triple; Text is the fact's free text.
type Input struct {
	Entity string
	Key    string
	Value  string
	Text   string
}

// Classifier is a deterministic (entity,key,value,text) -> Class mapper
// whose keyword sets are loaded from language resources so additional
// languages can be plugged in without touching this code.
type Classifier struct {
	res *langres.Resources

	permanentKeys map[string]bool
	sessionKeys   map[string]bool
	activeKeys    map[string]bool

	permanentRe *regexp.Regexp
	sessionRe   *regexp.Regexp
	activeRe    *regexp.Regexp
}

var defaultPermanentKeys = map[string]bool{
	"identity": true, "contact": true, "decision": true, "architecture": true,
	"email": true, "phone": true, "name": true, "role": true,
}
var defaultSessionKeys = map[string]bool{
	"current_file": true, "temp": true, "debug": true, "working_on_right_now": true,
}
var defaultActiveKeys = map[string]bool{
	"task": true, "todo": true, "wip": true, "branch": true, "sprint": true, "blocker": true,
}

// New builds a Classifier, pulling keyword/regex overlays from res. A nil
// res uses compiled-in English defaults only.
func New(res *langres.Resources) *Classifier {
	c := &Classifier{
		res:           res,
		permanentKeys: mergeSets(defaultPermanentKeys, res.Tokens("permanent")),
		sessionKeys:   mergeSets(defaultSessionKeys, res.Tokens("session")),
		activeKeys:    mergeSets(defaultActiveKeys, res.Tokens("active")),
	}
	c.permanentRe = regexp.MustCompile(`(?i)\b(always|never|decided|decision)\b`)
	c.sessionRe = regexp.MustCompile(`(?i)\b(right now|this session)\b`)
	c.activeRe = regexp.MustCompile(`(?i)\b(working on|in progress|currently)\b`)
	return c
}

func mergeSets(base map[string]bool, extra []string) map[string]bool {
	out := make(map[string]bool, len(base)+len(extra))
	for k := range base {
		out[k] = true
	}
	for _, k := range extra {
		out[strings.ToLower(k)] = true
	}
	return out
}

// Classify determines the decay class for the given input.
func (c *Classifier) Classify(in Input) Class {
	key := strings.ToLower(strings.TrimSpace(in.Key))
	entity := strings.ToLower(strings.TrimSpace(in.Entity))

	if strings.Contains(key, "checkpoint") || strings.Contains(key, "preflight") {
		return ClassCheckpoint
	}

	if c.permanentKeys[key] || entity == "decision" || entity == "convention" || c.permanentRe.MatchString(in.Text) {
		return ClassPermanent
	}

	if c.sessionKeys[key] || c.sessionRe.MatchString(in.Text) {
		return ClassSession
	}

	if c.activeKeys[key] || c.activeRe.MatchString(in.Text) {
		return ClassActive
	}

	return ClassStable
}

// Expiry returns the expiry time for class relative to now, or nil for
// classes that never expire (ClassPermanent).
func Expiry(class Class, now time.Time) *time.Time {
	if class == ClassPermanent {
		return nil
	}
	ttl, ok := TTL[class]
	if !ok {
		ttl = TTL[ClassStable]
	}
	t := now.Add(ttl)
	return &t
}
