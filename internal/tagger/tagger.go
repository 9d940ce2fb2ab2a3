// Package tagger extracts deterministic tags from fact text and computes
// the normalized hash used for fuzzy deduplication.
package tagger

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

type rule struct {
	tag string
	re  *regexp.Regexp
}

// rules is a fixed, ordered list of (tag, regex) pairs. The first match per
// tag wins; rules are evaluated in order against the lowercased
// "text + entity" string.
var rules = []rule{
	{"blocker", regexp.MustCompile(`\bblock(ed|er|ing)?\b`)},
	{"task", regexp.MustCompile(`\b(task|todo|to-do)\b`)},
	{"decision", regexp.MustCompile(`\bdecid(ed|e|ing)\b|\bdecision\b`)},
	{"preference", regexp.MustCompile(`\bprefer(s|red)?\b|\bi like\b|\bi'd rather\b`)},
	{"bug", regexp.MustCompile(`\bbug\b|\bbroken\b|\bfix(ed|ing)?\b`)},
	{"convention", regexp.MustCompile(`\bconvention\b|\bstyle guide\b`)},
	{"architecture", regexp.MustCompile(`\barchitecture\b|\bdesign\b`)},
	{"security", regexp.MustCompile(`\bsecurity\b|\bvulnerab(le|ility)\b|\bcredential\b`)},
	{"deadline", regexp.MustCompile(`\bdeadline\b|\bdue (by|date)\b`)},
}

// whitespaceRe collapses runs of whitespace for normalization.
var whitespaceRe = regexp.MustCompile(`\s+`)

// Extract returns the ordered, deduplicated list of tags matching text and
// entity (both lowercased before matching). The result is always sorted in
// rule-definition order, never alphabetically, since callers rely on the
// first (highest-priority) tag when only one can be used.
func Extract(text, entity string) []string {
	haystack := strings.ToLower(text + " " + entity)
	var tags []string
	for _, r := range rules {
		if r.re.MatchString(haystack) {
			tags = append(tags, r.tag)
		}
	}
	return tags
}

// Serialize encodes tags as the comma-separated, empty-string-sentinel form
// stored in the tags column: ",tag1,tag2," so `tag filter` can use a plain
// `,tag,` substring test (see MatchesTagFilter).
func Serialize(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "," + strings.Join(tags, ",") + ","
}

// Deserialize is the inverse of Serialize.
func Deserialize(serialized string) []string {
	serialized = strings.Trim(serialized, ",")
	if serialized == "" {
		return nil
	}
	return strings.Split(serialized, ",")
}

// MatchesTagFilter reports whether the serialized tag list contains tag.
func MatchesTagFilter(serialized, tag string) bool {
	if tag == "" {
		return true
	}
	return strings.Contains(serialized, ","+tag+",")
}

// NormalizeText lowercases and collapses whitespace, the canonical form
// hashed for fuzzy dedup and compared against the superseded-texts cache.
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(text), " "))
}

// NormalizedHash returns the hex-encoded SHA-256 digest of NormalizeText(text).
func NormalizedHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
