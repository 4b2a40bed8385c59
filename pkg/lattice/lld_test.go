package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A 3x1x1 line of fluid sites, single rank, open ends (out of bounds ->
// rubbish). Exercises local-target resolution and the rubbish slot without
// any off-rank neighbours.
func TestBuildLocalSingleRankLineOfSites(t *testing.T) {
	sites := []SiteInput{
		{I: 0, J: 0, K: 0, Class: Bulk},
		{I: 1, J: 0, K: 0, Class: Bulk},
		{I: 2, J: 0, K: 0, Class: Bulk},
	}
	lookup := func(i, j, k, dir int) (int, bool) {
		v := Directions[dir]
		ni, nj, nk := i+v.X, j+v.Y, k+v.Z
		if ni < 0 || ni > 2 || nj != 0 || nk != 0 {
			return 0, false
		}
		return 0, true
	}

	lld, err := BuildLocal(0, sites, lookup)
	require.NoError(t, err)
	require.NoError(t, lld.Finalize())

	assert.Equal(t, 3, lld.N)
	assert.Equal(t, 0, lld.S)
	assert.Empty(t, lld.Pending)
	assert.Equal(t, 3*Q, lld.RubbishSlot())

	// Every direction entry must be either a valid local target or the
	// rubbish slot (spec §8 property 1).
	for flat, target := range lld.NeighbourIndex {
		assert.True(t, target >= 0 && target <= lld.N*Q, "entry %d out of range: %d", flat, target)
	}

	// Middle site (now reordered, but still the only bulk site with two
	// fluid neighbours) must stream into both neighbours, never rubbish,
	// on its axis-aligned directions.
	plusX := indexOfVector(t, Vector{1, 0, 0})
	minusX := indexOfVector(t, Vector{-1, 0, 0})
	found := false
	for s := 0; s < lld.N; s++ {
		if lld.NeighbourIndex[s*Q+plusX] != lld.RubbishSlot() && lld.NeighbourIndex[s*Q+minusX] != lld.RubbishSlot() {
			found = true
		}
	}
	assert.True(t, found, "expected one site with fluid neighbours on both sides")
}

func TestBuildLocalRejectsInconsistentLookup(t *testing.T) {
	sites := []SiteInput{{I: 0, J: 0, K: 0, Class: Bulk}}
	lookup := func(i, j, k, dir int) (int, bool) {
		// Claims every neighbour is local fluid, but none of them are in
		// the site list: BuildLocal must catch this instead of indexing
		// out of range.
		return 0, true
	}
	_, err := BuildLocal(0, sites, lookup)
	assert.Error(t, err)
}

func TestBuildLocalGroupsOffRankLinksByPeerInOrder(t *testing.T) {
	sites := []SiteInput{
		{I: 0, J: 0, K: 0, Class: Bulk},
		{I: 1, J: 0, K: 0, Class: Wall},
	}
	lookup := func(i, j, k, dir int) (int, bool) {
		v := Directions[dir]
		ni, nj, nk := i+v.X, j+v.Y, k+v.Z
		if nj != 0 || nk != 0 {
			return 0, false
		}
		switch ni {
		case 0, 1:
			return 0, true
		case -1:
			return 1, true
		case 2:
			return 2, true
		default:
			return 0, false
		}
	}

	lld, err := BuildLocal(0, sites, lookup)
	require.NoError(t, err)

	require.Len(t, lld.Pending[1], 1)
	require.Len(t, lld.Pending[2], 1)
	assert.Equal(t, [3]int{-1, 0, 0}, lld.Pending[1][0].NeighbourCoord)
	assert.Equal(t, [3]int{2, 0, 0}, lld.Pending[2][0].NeighbourCoord)

	require.NoError(t, lld.ResolveOffRank(1, []int{0}))
	require.NoError(t, lld.ResolveOffRank(2, []int{0}))
	require.NoError(t, lld.Finalize())

	assert.Equal(t, 2, lld.S)
	assert.Len(t, lld.Peers, 2)
	assert.Equal(t, 1, lld.Peers[0].Rank)
	assert.Equal(t, 0, lld.Peers[0].FirstSharedIndex)
	assert.Equal(t, 2, lld.Peers[1].Rank)
	assert.Equal(t, 1, lld.Peers[1].FirstSharedIndex)
}

func indexOfVector(t *testing.T, v Vector) int {
	t.Helper()
	for i, d := range Directions {
		if d == v {
			return i
		}
	}
	t.Fatalf("direction %+v not found", v)
	return -1
}
