package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSearchRanksByRelevanceAndHidesSuperseded(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreFact(FactInput{Text: "the user prefers dark mode themes"}, false)
	require.NoError(t, err)
	old, err := s.StoreFact(FactInput{Text: "the user prefers light mode themes"}, false)
	require.NoError(t, err)
	require.NoError(t, s.SupersedeWithoutReplacement(old.ID))

	results, err := s.Search("mode themes", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "the user prefers dark mode themes", results[0].Fact.Text)
}

func TestSearchRespectsScopeFilter(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreFact(FactInput{Text: "session secret token", Scope: ScopeSession, ScopeTarget: "s1"}, false)
	require.NoError(t, err)

	visible, err := s.Search("secret token", SearchOptions{Scope: ScopeFilter{SessionID: "s1"}})
	require.NoError(t, err)
	require.Len(t, visible, 1)

	hidden, err := s.Search("secret token", SearchOptions{Scope: ScopeFilter{SessionID: "other"}})
	require.NoError(t, err)
	require.Empty(t, hidden)
}

func TestSearchAsOfPointInTime(t *testing.T) {
	s := newTestStore(t)
	before := time.Now().Add(-time.Hour)

	old, err := s.StoreFact(FactInput{Text: "project deadline is friday"}, false)
	require.NoError(t, err)
	next, err := s.StoreFact(FactInput{Text: "project deadline is friday"}, false)
	require.NoError(t, err)
	require.NoError(t, s.Supersede(old.ID, next.ID))

	// As-of a time before either fact existed: neither is valid yet.
	past, err := s.Search("project deadline", SearchOptions{AsOf: &before})
	require.NoError(t, err)
	require.Empty(t, past)

	now := time.Now()
	current, err := s.Search("project deadline", SearchOptions{AsOf: &now})
	require.NoError(t, err)
	require.Len(t, current, 1)
}

func TestLookupExactEntityKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreFact(FactInput{Text: "Bob's email is bob@example.com", Entity: "bob", Key: "email"}, false)
	require.NoError(t, err)

	results, err := s.Lookup("bob", "email", LookupOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}
