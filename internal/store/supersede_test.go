package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

func TestSupersedeCreatesLinkAndHidesOld(t *testing.T) {
	s := newTestStore(t)
	old, err := s.StoreFact(FactInput{Text: "v1", Entity: "plan", Key: "status"}, false)
	require.NoError(t, err)
	next, err := s.StoreFact(FactInput{Text: "v2", Entity: "plan", Key: "status"}, false)
	require.NoError(t, err)

	require.NoError(t, s.Supersede(old.ID, next.ID))

	got, err := s.GetByID(old.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SupersededAt)
	require.Equal(t, next.ID, *got.SupersededBy)

	links, err := s.GetLinksFrom(next.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, LinkSupersedes, links[0].LinkType)
	require.Equal(t, old.ID, links[0].ToID)
}

func TestSupersedeTwiceFails(t *testing.T) {
	s := newTestStore(t)
	old, _ := s.StoreFact(FactInput{Text: "v1"}, false)
	next, _ := s.StoreFact(FactInput{Text: "v2"}, false)
	require.NoError(t, s.Supersede(old.ID, next.ID))

	third, _ := s.StoreFact(FactInput{Text: "v3"}, false)
	err := s.Supersede(old.ID, third.ID)
	require.ErrorIs(t, err, ErrAlreadySuperseded)
}

func TestSupersedeWithoutReplacementLeavesNoSuccessor(t *testing.T) {
	s := newTestStore(t)
	f, err := s.StoreFact(FactInput{Text: "stale claim"}, false)
	require.NoError(t, err)

	require.NoError(t, s.SupersedeWithoutReplacement(f.ID))

	got, err := s.GetByID(f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SupersededAt)
	require.Nil(t, got.SupersededBy)

	links, err := s.GetLinksTo(f.ID)
	require.NoError(t, err)
	require.Empty(t, links, "no SUPERSEDES link should be created when there is no replacement")
}

func TestSupersedeWithoutReplacementNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SupersedeWithoutReplacement(ids.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetSupersededTexts(t *testing.T) {
	s := newTestStore(t)
	old, _ := s.StoreFact(FactInput{Text: "  Mixed Case Text  "}, false)
	require.NoError(t, s.SupersedeWithoutReplacement(old.ID))

	texts, err := s.GetSupersededTexts()
	require.NoError(t, err)
	require.True(t, len(texts) >= 1)
}

func TestSimilarByEntityKeyAndEntityAndText(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreFact(FactInput{Text: "alice likes tea", Entity: "alice", Key: "drink"}, false)
	require.NoError(t, err)

	byKey, err := s.SimilarByEntityKey("alice", "drink", ScopeFilter{})
	require.NoError(t, err)
	require.NotNil(t, byKey)

	byEntity, err := s.SimilarByEntity("alice", ScopeFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, byEntity, 1)

	byText, err := s.SimilarByText("tea", ScopeFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, byText, 1)
}
