package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateScope(t *testing.T) {
	require.NoError(t, validateScope(ScopeGlobal, ""))
	require.ErrorIs(t, validateScope(ScopeGlobal, "x"), ErrGlobalHasTarget)
	require.ErrorIs(t, validateScope(ScopeUser, ""), ErrInvalidScope)
	require.NoError(t, validateScope(ScopeUser, "u1"))
}

func TestPruneSessionScopeRemovesFactsAndProcedures(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreFact(FactInput{Text: "session fact", Scope: ScopeSession, ScopeTarget: "s1"}, false)
	require.NoError(t, err)
	_, err = s.UpsertProcedure(ProcedureInput{TaskPattern: "do the thing", Scope: ScopeSession, ScopeTarget: "s1"})
	require.NoError(t, err)
	_, err = s.StoreFact(FactInput{Text: "other session fact", Scope: ScopeSession, ScopeTarget: "s2"}, false)
	require.NoError(t, err)

	n, err := s.PruneSessionScope("s1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	remaining, err := s.List(ListOptions{Scope: &ScopeFilter{SessionID: "s2"}})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func TestUniqueScopes(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreFact(FactInput{Text: "g"}, false)
	require.NoError(t, err)
	_, err = s.StoreFact(FactInput{Text: "u", Scope: ScopeUser, ScopeTarget: "u1"}, false)
	require.NoError(t, err)

	pairs, err := s.UniqueScopes()
	require.NoError(t, err)
	require.Contains(t, pairs, ScopePair{Scope: ScopeGlobal, Target: ""})
	require.Contains(t, pairs, ScopePair{Scope: ScopeUser, Target: "u1"})
}
