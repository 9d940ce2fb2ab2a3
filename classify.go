package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/store"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/pkg/chatapi"
)

// ClassifyDecision is the outcome Chat returns for a candidate write
// (spec.md §4.9).
type ClassifyDecision string

const (
	DecisionAdd    ClassifyDecision = "ADD"
	DecisionUpdate ClassifyDecision = "UPDATE"
	DecisionDelete ClassifyDecision = "DELETE"
	DecisionNoop   ClassifyDecision = "NOOP"
)

const classifyPromptTemplate = `You are deciding how a new memory fact relates to existing ones.

New fact: %q

Existing candidates (most structurally similar first):
%s

Reply with exactly one line in one of these forms:
ADD
UPDATE <candidate-number>
DELETE <candidate-number>
NOOP
`

// StoreClassified implements the classify-before-write path (spec.md §4.9):
// it finds the most structurally similar existing facts (same entity+key,
// then same entity, then FTS text match), asks Chat to classify the new
// candidate against them, and applies the resulting ADD/UPDATE/DELETE/NOOP
// decision. UPDATE stores the new fact with supersedesId set to the chosen
// candidate and supersedes it in the same logical step; DELETE supersedes
// the candidate with no replacement.
func (e *Engine) StoreClassified(ctx context.Context, in FactInput) (*Fact, ClassifyDecision, error) {
	if e.chat == nil {
		return nil, "", ErrNoChat
	}

	candidates, err := e.similarCandidates(in)
	if err != nil {
		return nil, "", err
	}
	if len(candidates) == 0 {
		f, err := e.Store(in)
		return f, DecisionAdd, err
	}

	decision, target, err := e.classify(ctx, in.Text, candidates)
	if err != nil {
		return nil, "", err
	}

	switch decision {
	case DecisionUpdate:
		in.SupersedesID = &target.ID
		f, err := e.Store(in)
		if err != nil {
			return nil, "", err
		}
		if err := e.Supersede(target.ID, f.ID); err != nil {
			return f, decision, err
		}
		return f, decision, nil
	case DecisionDelete:
		if err := e.store.SupersedeWithoutReplacement(target.ID); err != nil {
			return nil, decision, err
		}
		return nil, decision, nil
	case DecisionNoop:
		return target, decision, nil
	default:
		f, err := e.Store(in)
		return f, DecisionAdd, err
	}
}

func (e *Engine) similarCandidates(in FactInput) ([]*Fact, error) {
	scope := store.ScopeFilter{}
	if in.Entity != "" && in.Key != "" {
		if f, err := e.store.SimilarByEntityKey(in.Entity, in.Key, scope); err != nil {
			return nil, err
		} else if f != nil {
			return []*Fact{f}, nil
		}
	}
	if in.Entity != "" {
		if fs, err := e.store.SimilarByEntity(in.Entity, scope, 3); err != nil {
			return nil, err
		} else if len(fs) > 0 {
			return fs, nil
		}
	}
	return e.store.SimilarByText(in.Text, scope, 3)
}

func (e *Engine) classify(ctx context.Context, newText string, candidates []*Fact) (ClassifyDecision, *Fact, error) {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Text)
	}

	resp, err := e.chat.Complete(ctx, e.chatModel, fmt.Sprintf(classifyPromptTemplate, newText, b.String()), chatapi.CompleteOptions{})
	if err != nil {
		return DecisionNoop, nil, fmt.Errorf("memory: classify: %w", err)
	}

	decision, idx := parseClassifyResponse(resp)
	if decision == DecisionUpdate || decision == DecisionDelete {
		if idx < 1 || idx > len(candidates) {
			return DecisionAdd, nil, nil
		}
		return decision, candidates[idx-1], nil
	}
	if decision == DecisionNoop && len(candidates) > 0 {
		return DecisionNoop, candidates[0], nil
	}
	return decision, nil, nil
}

func parseClassifyResponse(resp string) (ClassifyDecision, int) {
	line := strings.TrimSpace(strings.SplitN(resp, "\n", 2)[0])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return DecisionAdd, 0
	}
	switch strings.ToUpper(fields[0]) {
	case string(DecisionAdd):
		return DecisionAdd, 0
	case string(DecisionNoop):
		return DecisionNoop, 0
	case string(DecisionUpdate):
		return DecisionUpdate, parseCandidateIndex(fields)
	case string(DecisionDelete):
		return DecisionDelete, parseCandidateIndex(fields)
	default:
		return DecisionAdd, 0
	}
}

func parseCandidateIndex(fields []string) int {
	if len(fields) < 2 {
		return 0
	}
	n := 0
	for _, r := range fields[1] {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
