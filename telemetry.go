package memory

import (
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/pkg/telemetry"
)

// Stats reports row counts by tier, scope, and decay class, plus
// superseded/expired counts (spec.md §6's telemetry surface).
func (e *Engine) Stats() (*telemetry.Stats, error) {
	return telemetry.Collect(e.store.DB(), time.Now().UnixMilli())
}

// EstimateStoredTokens is the chars/4 heuristic used by persistence-sizing
// accounting — deliberately distinct from EstimateDisplayTokens (spec.md
// §9's open question: the two are never unified).
func EstimateStoredTokens(s string) int { return telemetry.EstimateStoredTokens(s) }

// EstimateDisplayTokens is the words*4/3 heuristic used when estimating how
// much context a fact will occupy once rendered to a caller.
func EstimateDisplayTokens(s string) int { return telemetry.EstimateDisplayTokens(s) }
