// Package langres loads the keyed dictionary of regex tokens that the
// decay classifier uses, so additional natural languages can be supported
// without touching Go source (the tagger's rules are fixed and do not use
// it). English
// fallbacks are always compiled in; this package only supplies overlays.
package langres

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Resources is a keyed dictionary of token lists, e.g.
//
//	permanent: [identity, contact, decision]
//	choiceOver: ["rather than", "instead of"]
//
// Keys are the categories named in spec.md §6: "permanent", "session",
// "active" for decay heuristics, and "decision", "choiceOver", "convention",
// "possessive", "preference", "nameIntro" for extraction templates.
type Resources struct {
	data map[string][]string
}

// Load parses raw (YAML bytes) into Resources, merging over the compiled-in
// English defaults. A nil or empty raw argument returns defaults only.
func Load(raw []byte) (*Resources, error) {
	r := &Resources{data: map[string][]string{}}
	if err := r.merge(defaultYAML); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := r.merge(raw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns the compiled-in English-only resource set.
func Default() *Resources {
	r, err := Load(nil)
	if err != nil {
		// default.yaml is embedded and checked at build time; a parse
		// failure here means the embedded asset itself is broken.
		panic("langres: invalid embedded default.yaml: " + err.Error())
	}
	return r
}

func (r *Resources) merge(raw []byte) error {
	var m map[string][]string
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return err
	}
	for k, v := range m {
		key := strings.ToLower(k)
		r.data[key] = append(r.data[key], v...)
	}
	return nil
}

// Tokens returns the token list for category, or nil if Resources is nil or
// the category is absent. Safe to call on a nil *Resources so callers can
// pass an unconfigured pointer without a guard.
func (r *Resources) Tokens(category string) []string {
	if r == nil {
		return nil
	}
	return r.data[strings.ToLower(category)]
}
