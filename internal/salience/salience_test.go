package salience

import (
	"testing"
	"time"
)

func TestBM25NormFallback(t *testing.T) {
	if got := BM25Norm(1, 1, 1); got != 0.8 {
		t.Fatalf("expected 0.8 fallback, got %v", got)
	}
}

func TestBM25NormRange(t *testing.T) {
	// lower rank (better) should normalize higher.
	best := BM25Norm(0, 0, 10)
	worst := BM25Norm(10, 0, 10)
	if best <= worst {
		t.Fatalf("expected best (%v) > worst (%v)", best, worst)
	}
	if best != 1 {
		t.Fatalf("expected 1 at min rank, got %v", best)
	}
	if worst != 0 {
		t.Fatalf("expected 0 at max rank, got %v", worst)
	}
}

func TestFreshnessNoExpiry(t *testing.T) {
	if got := Freshness(nil, time.Now()); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestFreshnessPast(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	if got := Freshness(&past, now); got != 0 {
		t.Fatalf("expected 0 for past expiry, got %v", got)
	}
}

func TestScoreMonotonicInRecallCount(t *testing.T) {
	w := DefaultWeights()
	now := time.Now()
	base := CandidateInputs{BM25Norm: 0.9, Freshness: 1, Confidence: 1, Now: now}
	low := base
	low.RecallCount = 0
	high := base
	high.RecallCount = 50
	if Score(high, w) <= Score(low, w) {
		t.Fatalf("expected higher recall count to raise score")
	}
}

func TestScoreDecaysWithAge(t *testing.T) {
	w := DefaultWeights()
	now := time.Now()
	recent := now.Add(-time.Hour)
	old := now.Add(-60 * 24 * time.Hour)
	in1 := CandidateInputs{BM25Norm: 0.9, Freshness: 1, Confidence: 1, LastAccessed: &recent, Now: now}
	in2 := CandidateInputs{BM25Norm: 0.9, Freshness: 1, Confidence: 1, LastAccessed: &old, Now: now}
	if Score(in1, w) <= Score(in2, w) {
		t.Fatalf("expected recent access to score higher than old access")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0.1, 0.95, 2) != 0.95 {
		t.Fatal("expected clamp to hi")
	}
	if Clamp(0.1, 0.95, -1) != 0.1 {
		t.Fatal("expected clamp to lo")
	}
	if Clamp(0.1, 0.95, 0.5) != 0.5 {
		t.Fatal("expected unchanged value within range")
	}
}
