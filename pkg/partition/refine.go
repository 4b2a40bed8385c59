package partition

import "github.com/hemelb-go/hemelb/pkg/lattice"

// SiteGraph is the per-site adjacency the graph partitioner consumes,
// built per spec §4.3 steps 1-3: global row-major numbering of fluid
// sites (block order, then site order within a block, skipping solids),
// and an edge list of in-bounds fluid D3Q15 neighbours with self-links
// omitted.
type SiteGraph struct {
	// VtxDist is the vertex distribution: VtxDist[r+1]-VtxDist[r] is the
	// number of fluid sites owned by rank r before refinement.
	VtxDist []int
	// AdjacencyList[v] lists the global fluid-site numbers of local vertex
	// v's fluid neighbours, in lattice direction order (not sorted); add
	// VtxDist[rank] to v to get v's own global vertex id.
	AdjacencyList [][]int
}

// GraphPartitioner is the external collaborator (spec §4.3 step 4): given
// a SiteGraph owned across ranks, compute a new part (rank) per local
// vertex. Implementations typically wrap a call into a real parallel
// partitioning library; this package only declares the seam.
type GraphPartitioner interface {
	Partition(graph *SiteGraph, nparts int, imbalanceTolerance float64) (part []int, err error)
}

// Move is one site's reassignment produced by Refine.
type Move struct {
	GlobalSiteIndex int
	TargetRank      int
}

// DefaultImbalanceTolerance is the value spec §4.3 step 4 names.
const DefaultImbalanceTolerance = 1.005

// Refine builds the site graph for the local rank's sites, calls the
// partitioner, and returns the final per-site assignment plus the list of
// moves (sites whose new rank differs from currentRank) — spec §4.3 steps
// 1-6. The all-gather of move lists across ranks (step 6) is the caller's
// job (pkg/transport), since it is a collective operation over the rank
// fabric that this package does not itself own.
func Refine(graph *SiteGraph, currentRank, nparts int, gp GraphPartitioner) ([]int, []Move, error) {
	part, err := gp.Partition(graph, nparts, DefaultImbalanceTolerance)
	if err != nil {
		return nil, nil, err
	}
	if len(part) != len(graph.AdjacencyList) {
		return nil, nil, errPartOutOfRange
	}

	base := graph.VtxDist[currentRank]
	var moves []Move
	for local, p := range part {
		if p < 0 || p >= nparts {
			return nil, nil, errPartOutOfRange
		}
		if p != currentRank {
			moves = append(moves, Move{GlobalSiteIndex: base + local, TargetRank: p})
		}
	}

	return part, moves, nil
}

// BuildSiteGraph implements spec §4.3 steps 1-3 for one rank's local fluid
// sites. Local sites are numbered 0..localSiteCount-1 in the caller's own
// enumeration, and local site s has global number vtxDist[rank]+s; neighbour
// looks up the global fluid index of the site in direction l from site s,
// returning ok=false when that neighbour is solid or out of bounds.
func BuildSiteGraph(vtxDist []int, rank int, localSiteCount int, neighbour func(localSite, direction int) (globalIdx int, ok bool)) *SiteGraph {
	adjacency := make([][]int, localSiteCount)
	for s := 0; s < localSiteCount; s++ {
		var edges []int
		for _, l := range lattice.NonZero() {
			g, ok := neighbour(s, l)
			if !ok {
				continue
			}
			self := vtxDist[rank] + s
			if g == self {
				continue
			}
			edges = append(edges, g)
		}
		adjacency[s] = edges
	}
	return &SiteGraph{VtxDist: vtxDist, AdjacencyList: adjacency}
}
