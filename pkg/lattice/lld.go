package lattice

import (
	"fmt"
	"sort"
)

// CollisionClass groups fluid sites for the purpose of kernel dispatch
// (spec §4.4's fixed ordering: bulk, wall, inlet, outlet, inlet∧wall,
// outlet∧wall). The collision kernel itself is an external collaborator
// (spec §6); this package only needs the classification to build the
// inner/inter offset tables.
type CollisionClass int

const (
	Bulk CollisionClass = iota
	Wall
	Inlet
	Outlet
	InletWall
	OutletWall
	numCollisionClasses
)

func (c CollisionClass) String() string {
	switch c {
	case Bulk:
		return "bulk"
	case Wall:
		return "wall"
	case Inlet:
		return "inlet"
	case Outlet:
		return "outlet"
	case InletWall:
		return "inlet∧wall"
	case OutletWall:
		return "outlet∧wall"
	default:
		return fmt.Sprintf("CollisionClass(%d)", int(c))
	}
}

// Peer is one neighbouring rank's bookkeeping record (data model §3).
type Peer struct {
	Rank             int
	SharedCount      int
	FirstSharedIndex int
}

// SiteInput is one of this rank's fluid sites as produced by the
// partitioner, before LLD construction reorders everything into the
// inner/inter, by-class layout.
type SiteInput struct {
	I, J, K    int
	Class      CollisionClass
	Type       int // caller-defined: 0 fluid, 1 inlet, 2 outlet (informational only)
	BoundaryID int

	// PackedWord is the site's packed 32-bit word (geometry.PackSiteWord),
	// carried through unchanged into LocalLatticeData.SiteData at this
	// site's final index.
	PackedWord uint32
	// WallAdjacent, WallNormal and CutDist mirror geometry.Site's optional
	// wall-adjacency fields; BuildLocal only records them (in
	// LocalLatticeData.WallNormal/CutDist) when WallAdjacent is true.
	WallAdjacent bool
	WallNormal   [3]float64
	CutDist      [Q - 1]float64
}

// coord is a hashable lattice coordinate key.
type coord struct{ I, J, K int }

// NeighbourLookup resolves the owner of the lattice position reached from
// (i,j,k) in direction l. fluid=false means the target is solid or out of
// the lattice bounds (maps to the rubbish slot); otherwise rank is the
// owning rank (which may be the local rank).
type NeighbourLookup func(i, j, k, direction int) (rank int, fluid bool)

// PendingLink is one (local site, direction) pair whose neighbour is
// off-rank, not yet resolved to a concrete shared-region slot. Resolution
// happens in a second pass once the neighbour-exchange protocol (owned by
// pkg/halo) has assigned slot indices.
type PendingLink struct {
	LocalSite int // index into the final (reordered) site arrays
	Direction int
	PeerRank  int
	// LocalCoord is this link's own site's lattice coordinate.
	LocalCoord [3]int
	// NeighbourCoord is the lattice coordinate of the off-rank neighbour,
	// used by the exchange protocol to match this rank's list against the
	// peer's transformed list.
	NeighbourCoord [3]int
}

// LocalLatticeData is the per-rank compacted representation of spec §4.4.
type LocalLatticeData struct {
	N int // local fluid site count
	S int // sum of peer.SharedCount

	FOld []float64
	FNew []float64

	// NeighbourIndex[s*Q+l] is the flat index into FOld/FNew that
	// direction l from site s streams to. Entries for off-rank
	// directions are -1 until ResolveOffRank fills them in.
	NeighbourIndex []int

	SiteData   []uint32 // packed word, one per site (site_data, spec §3)
	WallNormal map[int][3]float64
	CutDist    map[int][Q - 1]float64

	Peers []Peer

	InnerOffset [numCollisionClasses]int
	InnerCount  [numCollisionClasses]int
	InterOffset [numCollisionClasses]int
	InterCount  [numCollisionClasses]int
	InnerTotal  int
	InterTotal  int

	// Pending holds the off-rank links grouped by peer rank, in the
	// deterministic local order BuildLocal enumerated them — the ordered
	// list the neighbour-exchange protocol sends/consumes (spec §4.4
	// steps 1-3).
	Pending map[int][]PendingLink

	// RecvTarget[i] is the FNew flat index the i-th shared-region slot's
	// incoming value is copied to once a receive completes: the local
	// site's own slot for the inverse of the direction it shares with its
	// off-rank neighbour. Indexed the same way as the shared region
	// itself (slot i lives at FOld/FNew flat index N*Q+1+i).
	RecvTarget []int
}

// RubbishSlot is the single designated stream target used when streaming
// would exit the lattice (data model invariant (iii)).
func (l *LocalLatticeData) RubbishSlot() int {
	return l.N * Q
}

// BuildLocal implements spec §4.4: it partitions sites into inner/inter
// ranges grouped by collision class, builds neighbour_index for local and
// rubbish targets, and collects the off-rank links into Pending, one
// ordered list per peer, ready for the neighbour-exchange protocol.
func BuildLocal(rank int, sites []SiteInput, lookup NeighbourLookup) (*LocalLatticeData, error) {
	n := len(sites)
	coordIndex := make(map[coord]int, n)
	for i, s := range sites {
		coordIndex[coord{s.I, s.J, s.K}] = i
	}

	type resolved struct {
		isInter bool
		targets [Q]target
	}
	type target struct {
		kind targetKind
		// for kindLocal: old-index of the local fluid neighbour.
		local int
		// for kindOffRank: owning rank and neighbour coordinate.
		peer  int
		coord [3]int
	}

	results := make([]resolved, n)
	for i, s := range sites {
		var r resolved
		for l := 1; l < Q; l++ {
			v := Directions[l]
			ni, nj, nk := s.I+v.X, s.J+v.Y, s.K+v.Z
			owner, fluid := lookup(s.I, s.J, s.K, l)
			if !fluid {
				r.targets[l] = target{kind: kindRubbish}
				continue
			}
			if owner == rank {
				idx, ok := coordIndex[coord{ni, nj, nk}]
				if !ok {
					return nil, errTopologyInconsistent
				}
				r.targets[l] = target{kind: kindLocal, local: idx}
				continue
			}
			r.targets[l] = target{kind: kindOffRank, peer: owner, coord: [3]int{ni, nj, nk}}
			r.isInter = true
		}
		results[i] = r
	}

	// Partition old indices into inner/inter, grouped by class, preserving
	// row-major (encounter) order within each group.
	var order []int
	for c := CollisionClass(0); c < numCollisionClasses; c++ {
		for i, s := range sites {
			if !results[i].isInter && s.Class == c {
				order = append(order, i)
			}
		}
	}
	innerTotal := len(order)
	for c := CollisionClass(0); c < numCollisionClasses; c++ {
		for i, s := range sites {
			if results[i].isInter && s.Class == c {
				order = append(order, i)
			}
		}
	}

	oldToNew := make([]int, n)
	for newIdx, oldIdx := range order {
		oldToNew[oldIdx] = newIdx
	}

	lld := &LocalLatticeData{
		N:              n,
		NeighbourIndex: make([]int, n*Q),
		SiteData:       make([]uint32, n),
		WallNormal:     make(map[int][3]float64),
		CutDist:        make(map[int][Q - 1]float64),
		Pending:        make(map[int][]PendingLink),
		InnerTotal:     innerTotal,
		InterTotal:     n - innerTotal,
	}

	for c := CollisionClass(0); c < numCollisionClasses; c++ {
		lld.InnerOffset[c] = -1
		lld.InterOffset[c] = -1
	}
	for newIdx, oldIdx := range order {
		c := sites[oldIdx].Class
		if !results[oldIdx].isInter {
			if lld.InnerOffset[c] == -1 {
				lld.InnerOffset[c] = newIdx
			}
			lld.InnerCount[c]++
		} else {
			if lld.InterOffset[c] == -1 {
				lld.InterOffset[c] = newIdx
			}
			lld.InterCount[c]++
		}
	}

	for newIdx, oldIdx := range order {
		s := sites[oldIdx]
		lld.SiteData[newIdx] = s.PackedWord
		if s.WallAdjacent {
			lld.WallNormal[newIdx] = s.WallNormal
			lld.CutDist[newIdx] = s.CutDist
		}
	}

	for newIdx, oldIdx := range order {
		r := results[oldIdx]
		for l := 0; l < Q; l++ {
			flat := newIdx*Q + l
			if l == 0 {
				lld.NeighbourIndex[flat] = newIdx*Q + 0
				continue
			}
			t := r.targets[l]
			switch t.kind {
			case kindRubbish:
				lld.NeighbourIndex[flat] = n * Q
			case kindLocal:
				lld.NeighbourIndex[flat] = oldToNew[t.local]*Q + l
			case kindOffRank:
				lld.NeighbourIndex[flat] = -1
				s := sites[oldIdx]
				lld.Pending[t.peer] = append(lld.Pending[t.peer], PendingLink{
					LocalSite:      newIdx,
					Direction:      l,
					PeerRank:       t.peer,
					LocalCoord:     [3]int{s.I, s.J, s.K},
					NeighbourCoord: t.coord,
				})
			}
		}
	}

	// Deterministic per-peer ordering (spec §4.4 step 1): ascending by the
	// local site's position, then direction.
	for peer := range lld.Pending {
		links := lld.Pending[peer]
		sort.Slice(links, func(a, b int) bool {
			if links[a].LocalSite != links[b].LocalSite {
				return links[a].LocalSite < links[b].LocalSite
			}
			return links[a].Direction < links[b].Direction
		})
		lld.Pending[peer] = links
	}

	return lld, nil
}

type targetKind int

const (
	kindRubbish targetKind = iota
	kindLocal
	kindOffRank
)

// ResolveOffRank fills in NeighbourIndex for every pending link to
// peerRank, given the shared-region slot index assigned to each link (in
// the same order as lld.Pending[peerRank]), and records the Peer
// bookkeeping entry. It must be called once per peer, after the
// neighbour-exchange protocol (pkg/halo) has computed slotFor.
func (lld *LocalLatticeData) ResolveOffRank(peerRank int, slotFor []int) error {
	links := lld.Pending[peerRank]
	if len(links) != len(slotFor) {
		return errSlotCountMismatch
	}

	firstShared := lld.N*Q + 1 + lld.S
	maxSlot := -1
	for i, link := range links {
		slot := slotFor[i]
		if slot > maxSlot {
			maxSlot = slot
		}
		flat := firstShared + slot
		lld.NeighbourIndex[link.LocalSite*Q+link.Direction] = flat
	}
	count := maxSlot + 1
	lld.Peers = append(lld.Peers, Peer{Rank: peerRank, SharedCount: count, FirstSharedIndex: firstShared - (lld.N*Q + 1)})

	for len(lld.RecvTarget) < lld.S+count {
		lld.RecvTarget = append(lld.RecvTarget, -1)
	}
	for i, link := range links {
		slot := slotFor[i]
		lld.RecvTarget[lld.S+slot] = link.LocalSite*Q + Inverse[link.Direction]
	}
	lld.S += count

	sort.Slice(lld.Peers, func(a, b int) bool { return lld.Peers[a].Rank < lld.Peers[b].Rank })
	return nil
}

// Finalize allocates FOld/FNew once every peer has been resolved, and
// validates that every NeighbourIndex entry is in range (spec §8 property
// 1).
func (lld *LocalLatticeData) Finalize() error {
	size := lld.N*Q + 1 + lld.S
	lld.FOld = make([]float64, size)
	lld.FNew = make([]float64, size)

	for _, idx := range lld.NeighbourIndex {
		if idx < 0 || idx > lld.N*Q+lld.S {
			return errNeighbourIndexOutOfRange
		}
	}
	return nil
}
