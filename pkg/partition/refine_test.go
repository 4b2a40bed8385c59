package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePartitioner struct {
	assign func(v int) int
}

func (f fakePartitioner) Partition(graph *SiteGraph, nparts int, tol float64) ([]int, error) {
	out := make([]int, len(graph.AdjacencyList))
	for i := range out {
		out[i] = f.assign(i)
	}
	return out, nil
}

func TestRefineReportsOnlyActualMoves(t *testing.T) {
	graph := &SiteGraph{VtxDist: []int{0, 4, 8}, AdjacencyList: [][]int{{1}, {0, 2}, {1, 3}, {2}}}
	gp := fakePartitioner{assign: func(v int) int {
		if v == 2 {
			return 1 // move site (local 2, global 2) to rank 1
		}
		return 0
	}}

	part, moves, err := Refine(graph, 0, 2, gp)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 0}, part)
	require.Len(t, moves, 1)
	assert.Equal(t, Move{GlobalSiteIndex: 2, TargetRank: 1}, moves[0])
}

func TestRefineRejectsOutOfRangePart(t *testing.T) {
	graph := &SiteGraph{VtxDist: []int{0, 1}, AdjacencyList: [][]int{{}}}
	gp := fakePartitioner{assign: func(v int) int { return 5 }}
	_, _, err := Refine(graph, 0, 2, gp)
	assert.Error(t, err)
}

func TestBuildSiteGraphOmitsSelfAndSolid(t *testing.T) {
	vtxDist := []int{0, 3}
	neighbour := func(local, dir int) (int, bool) {
		// direction 1 only: site 0 -> site 1, site 1 -> site 0, and site 2
		// -> global 2, which is site 2 itself and must be dropped as a
		// self-link. Every other direction is solid or out of bounds.
		if dir != 1 {
			return 0, false
		}
		switch local {
		case 0:
			return 1, true
		case 1:
			return 0, true
		default:
			return local, true
		}
	}
	g := BuildSiteGraph(vtxDist, 0, 3, neighbour)
	assert.Equal(t, []int{1}, g.AdjacencyList[0])
	assert.Equal(t, []int{0}, g.AdjacencyList[1])
	assert.Empty(t, g.AdjacencyList[2])
}
