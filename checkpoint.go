package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/decay"
)

const checkpointKeyPrefix = "checkpoint:"

// SaveCheckpoint stores context (anything JSON-marshalable) as a fact with
// entity="system", key="checkpoint:<unix-ms>", source="checkpoint",
// decay_class="checkpoint" (spec.md §4.13 step 4).
func (e *Engine) SaveCheckpoint(context any) (*Fact, error) {
	data, err := json.Marshal(context)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal checkpoint context: %w", err)
	}
	class := decay.ClassCheckpoint
	key := fmt.Sprintf("%s%d", checkpointKeyPrefix, time.Now().UnixMilli())
	return e.Store(FactInput{
		Text:       string(data),
		Entity:     "system",
		Key:        key,
		Source:     "checkpoint",
		DecayClass: &class,
		Scope:      ScopeGlobal,
	})
}

// RestoreCheckpoint returns the most recent non-expired checkpoint, or nil
// if none exists.
func (e *Engine) RestoreCheckpoint() (*Fact, error) {
	facts, err := e.store.GetAll(ListOptions{Scope: &ScopeFilter{}})
	if err != nil {
		return nil, err
	}
	var latest *Fact
	for _, f := range facts {
		if f.Entity != "system" || !strings.HasPrefix(f.Key, checkpointKeyPrefix) {
			continue
		}
		if latest == nil || f.CreatedAt.After(latest.CreatedAt) {
			latest = f
		}
	}
	return latest, nil
}
