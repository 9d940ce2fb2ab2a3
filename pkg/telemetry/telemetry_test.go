package telemetry

import (
	"testing"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/store"
)

func TestCollect_CountsByTierScopeAndDecayClass(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		if _, err := s.StoreFact(store.FactInput{
			Text:  "fact text",
			Scope: store.ScopeGlobal,
		}, false); err != nil {
			t.Fatalf("store fact %d: %v", i, err)
		}
	}

	stats, err := Collect(s.DB(), time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.TotalFacts != 3 {
		t.Errorf("expected 3 total facts, got %d", stats.TotalFacts)
	}
	if sum := stats.ByTier["warm"]; sum != 3 {
		t.Errorf("expected 3 warm-tier facts, got %d (map=%v)", sum, stats.ByTier)
	}
	if stats.ByScope["global"] != 3 {
		t.Errorf("expected 3 global-scope facts, got %d", stats.ByScope["global"])
	}
	if len(stats.ByDecayClass) == 0 {
		t.Error("expected at least one decay class bucket")
	}
}

func TestEstimateStoredTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, c := range cases {
		if got := EstimateStoredTokens(c.in); got != c.want {
			t.Errorf("EstimateStoredTokens(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEstimateDisplayTokens(t *testing.T) {
	if got := EstimateDisplayTokens(""); got != 0 {
		t.Errorf("expected 0 for empty string, got %d", got)
	}
	got := EstimateDisplayTokens("the quick brown fox jumps")
	if got <= 0 {
		t.Errorf("expected positive token estimate, got %d", got)
	}
}
