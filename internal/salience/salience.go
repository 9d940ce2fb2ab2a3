// Package salience computes the composite ranking score (spec.md §4.7) used
// to order fact search results, independent of how candidates were sourced
// (FTS, ANN, or lookup).
package salience

import (
	"math"
	"time"
)

// Defaults for the tunable coefficients in the salience formula.
const (
	DefaultAccessBoost        = 0.1
	DefaultHalfLife           = 30 * 24 * time.Hour
	DefaultReinforcementBoost = 0.1
)

// Weights holds the composite-score coefficients so callers can override
// them (e.g. in tests) without touching the formula itself.
type Weights struct {
	AccessBoost        float64
	HalfLife           time.Duration
	ReinforcementBoost float64
}

// DefaultWeights returns the default tunable coefficients.
func DefaultWeights() Weights {
	return Weights{
		AccessBoost:        DefaultAccessBoost,
		HalfLife:           DefaultHalfLife,
		ReinforcementBoost: DefaultReinforcementBoost,
	}
}

// clamp01 clamps x to [0,1].
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Clamp restricts x to [lo,hi].
func Clamp(lo, hi, x float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// BM25Norm normalizes a raw BM25 rank (lower is better in SQLite FTS5,
// where rank is negative-ish; callers pass the raw rank value) into [0,1]
// relative to the batch's [minRank,maxRank]. Falls back to 0.8 when the
// range collapses to zero (a single result, or all-equal ranks) since the
// normalization is undefined (0/0) in that case — see spec.md §9's open
// question on whether 0.8 is an intentional floor or a failsafe; this
// implementation treats it as the documented failsafe.
func BM25Norm(rank, minRank, maxRank float64) float64 {
	spread := maxRank - minRank
	if spread == 0 || math.IsNaN(spread) {
		return 0.8
	}
	v := 1 - (rank-minRank)/spread
	if math.IsNaN(v) {
		return 0.8
	}
	return clamp01(v)
}

// Freshness maps a fact's expiry to [0,1]: 1 when there is no expiry or the
// expiry is more than 7 days out, decaying linearly to 0 at the expiry
// instant (and clamped to 0 beyond it).
func Freshness(expiresAt *time.Time, now time.Time) float64 {
	if expiresAt == nil {
		return 1
	}
	remaining := expiresAt.Sub(now).Seconds()
	return clamp01(remaining / (7 * 86400))
}

// CandidateInputs bundles the per-candidate values the composite score and
// the access/recency multiplier need.
type CandidateInputs struct {
	BM25Norm       float64
	Freshness      float64
	Confidence     float64
	ReinforcedCnt  int
	RecallCount    int
	LastAccessed   *time.Time
	Now            time.Time
}

// Base computes the pre-multiplier base score for a search candidate.
func Base(in CandidateInputs, w Weights) float64 {
	reinforce := 0.0
	if in.ReinforcedCnt > 0 {
		reinforce = w.ReinforcementBoost
	}
	base := 0.6*in.BM25Norm + 0.25*in.Freshness + 0.15*in.Confidence + reinforce
	if base > 1 {
		base = 1
	}
	return base
}

// LookupBase is the simplified base score used for lookup() results, which
// rank on stored confidence alone rather than BM25/freshness.
func LookupBase(confidence float64) float64 {
	return confidence
}

// Multiplier computes the access-boost * recency decay factor applied to
// base to produce the final salience score.
func Multiplier(in CandidateInputs, w Weights) float64 {
	accessTerm := 1 + w.AccessBoost*math.Log1p(float64(in.RecallCount))

	daysSinceAccess := 0.0
	if in.LastAccessed != nil {
		daysSinceAccess = in.Now.Sub(*in.LastAccessed).Hours() / 24
		if daysSinceAccess < 0 {
			daysSinceAccess = 0
		}
	}
	halfLifeDays := w.HalfLife.Hours() / 24
	recencyTerm := 1 / (1 + daysSinceAccess/halfLifeDays)

	return accessTerm * recencyTerm
}

// Score computes the final clamped salience score for a search candidate.
func Score(in CandidateInputs, w Weights) float64 {
	return clamp01(Base(in, w) * Multiplier(in, w))
}

// LookupScore computes the final clamped salience score for a lookup
// candidate (base = stored confidence, same access/recency multiplier).
func LookupScore(confidence float64, in CandidateInputs, w Weights) float64 {
	return clamp01(LookupBase(confidence) * Multiplier(in, w))
}
