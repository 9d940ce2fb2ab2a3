package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

func TestCreateLinkAndQuery(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.StoreFact(FactInput{Text: "a"}, false)
	b, _ := s.StoreFact(FactInput{Text: "b"}, false)

	link, err := s.CreateLink(a.ID, b.ID, LinkCausedBy, 0.9)
	require.NoError(t, err)
	require.Equal(t, a.ID, link.FromID)
	require.Equal(t, b.ID, link.ToID)

	from, err := s.GetLinksFrom(a.ID)
	require.NoError(t, err)
	require.Len(t, from, 1)

	to, err := s.GetLinksTo(b.ID)
	require.NoError(t, err)
	require.Len(t, to, 1)
}

func TestGetConnectedFactIdsBFS(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.StoreFact(FactInput{Text: "a"}, false)
	b, _ := s.StoreFact(FactInput{Text: "b"}, false)
	c, _ := s.StoreFact(FactInput{Text: "c"}, false)

	_, err := s.CreateLink(a.ID, b.ID, LinkRelatedTo, 0.1)
	require.NoError(t, err)
	_, err = s.CreateLink(b.ID, c.ID, LinkRelatedTo, 0.1)
	require.NoError(t, err)

	oneHop, err := s.GetConnectedFactIds(a.ID, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{b.ID.String()}, idsToStrings(oneHop))

	twoHop, err := s.GetConnectedFactIds(a.ID, 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{b.ID.String(), c.ID.String()}, idsToStrings(twoHop))
}

func idsToStrings(in []ids.ID) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.String()
	}
	return out
}

func TestStrengthenRelatedIsSymmetricAndSaturates(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.StoreFact(FactInput{Text: "a"}, false)
	b, _ := s.StoreFact(FactInput{Text: "b"}, false)

	for i := 0; i < 100; i++ {
		require.NoError(t, s.StrengthenRelated(a.ID, b.ID))
		require.NoError(t, s.StrengthenRelated(b.ID, a.ID))
	}

	from, err := s.GetLinksFrom(a.ID)
	require.NoError(t, err)
	to, err := s.GetLinksFrom(b.ID)
	require.NoError(t, err)

	var found bool
	for _, l := range append(from, to...) {
		if l.LinkType == LinkRelatedTo {
			found = true
			require.LessOrEqual(t, l.Strength, 1.0)
		}
	}
	require.True(t, found)
}

func TestStrengthenRelatedNoSelfLoop(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.StoreFact(FactInput{Text: "a"}, false)
	require.NoError(t, s.StrengthenRelated(a.ID, a.ID))

	links, err := s.GetLinksFrom(a.ID)
	require.NoError(t, err)
	require.Empty(t, links)
}
