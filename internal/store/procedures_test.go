package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

func TestUpsertProcedureDeduplicatesByPatternScope(t *testing.T) {
	s := newTestStore(t)
	a, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "deploy service", RecipeJSON: `{"steps":1}`})
	require.NoError(t, err)
	b, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "deploy service", RecipeJSON: `{"steps":2}`})
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, `{"steps":1}`, b.RecipeJSON, "existing procedure's recipe is left untouched")
}

func TestRecordSuccessDedupsPerSession(t *testing.T) {
	s := newTestStore(t)
	p, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "run tests"})
	require.NoError(t, err)

	require.NoError(t, s.RecordSuccess(p.ID, "session-1"))
	require.NoError(t, s.RecordSuccess(p.ID, "session-1"))
	require.NoError(t, s.RecordSuccess(p.ID, "session-2"))

	got, err := s.findProcedure("run tests", ScopeGlobal, "")
	require.NoError(t, err)
	require.Equal(t, 2, got.SuccessCount, "repeated success from the same session must not double-count")
}

func TestReinforceAppliesSharedCapAndAutoPromotes(t *testing.T) {
	s := newTestStore(t)
	p, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "restart the worker"})
	require.NoError(t, err)

	for i := 0; i < promotionMinSuccess; i++ {
		require.NoError(t, s.RecordSuccess(p.ID, string(rune('a'+i))))
	}

	long := make([]byte, quoteTrimLen+10)
	for i := range long {
		long[i] = 'x'
	}
	for i := 0; i < quoteCap+3; i++ {
		require.NoError(t, s.Reinforce(p.ID, string(long)))
	}

	got, err := s.findProcedure("restart the worker", ScopeGlobal, "")
	require.NoError(t, err)
	require.Len(t, got.ReinforcedQuotes, quoteCap)
	require.LessOrEqual(t, len([]rune(got.ReinforcedQuotes[0])), quoteTrimLen)
	require.True(t, got.PromotedToSkill, "enough successes at high confidence should auto-promote")
}

func TestMarkPromotedSetsSkillPath(t *testing.T) {
	s := newTestStore(t)
	p, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "compile the project"})
	require.NoError(t, err)

	require.NoError(t, s.MarkPromoted(p.ID, "skills/compile.md"))

	got, err := s.findProcedure("compile the project", ScopeGlobal, "")
	require.NoError(t, err)
	require.True(t, got.PromotedToSkill)
	require.Equal(t, "skills/compile.md", got.SkillPath)
}

func TestSearchProceduresRankedOnlyPositive(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "clean build cache"})
	require.NoError(t, err)
	_, err = s.UpsertProcedure(ProcedureInput{TaskPattern: "clean build cache but wrong", Type: ProcedureNegative})
	require.NoError(t, err)

	results, err := s.SearchProceduresRanked("clean build cache", ScopeFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, ProcedurePositive, results[0].Procedure.Type)
}

func TestGetNegativeProceduresMatching(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "force push to main", Type: ProcedureNegative})
	require.NoError(t, err)

	results, err := s.GetNegativeProceduresMatching("force push", ScopeFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestGetReadyForSkillAndStale(t *testing.T) {
	s := newTestStore(t)
	p, err := s.UpsertProcedure(ProcedureInput{TaskPattern: "rotate credentials"})
	require.NoError(t, err)

	ready, err := s.GetReadyForSkill()
	require.NoError(t, err)
	require.Empty(t, ready)

	for i := 0; i < promotionMinSuccess; i++ {
		require.NoError(t, s.RecordSuccess(p.ID, string(rune('a'+i))))
	}
	ready, err = s.GetReadyForSkill()
	require.NoError(t, err)
	require.Len(t, ready, 1)

	stale, err := s.GetStale()
	require.NoError(t, err)
	require.Empty(t, stale, "a procedure created just now is not stale")
}

func TestRecordSuccessNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordSuccess(ids.New(), "s1")
	require.ErrorIs(t, err, ErrNotFound)
}
