// Package geometry reads and writes the HemeLB binary geometry file: a
// fixed preamble, a per-block header table, and a body of per-site
// records for every non-empty block. The wire layout is XDR (big-endian),
// and must match the existing writer tool byte-for-byte (spec §4.1, §6).
package geometry

import "github.com/hemelb-go/hemelb/pkg/lattice"

// SiteType is the type of one lattice site.
type SiteType uint32

const (
	Solid SiteType = iota
	Fluid
	Inlet
	Outlet
)

// Flag marks additional, orthogonal properties of a fluid/inlet/outlet
// site.
type Flag uint32

const (
	FlagNone         Flag = 0
	FlagWallAdjacent Flag = 1 << iota
	FlagPressureEdge
)

// Site is one addressable lattice cell, as read from or written to the
// geometry file body.
type Site struct {
	Type  SiteType
	Flags Flag

	// BoundaryID indexes into the inlet/outlet tables; valid only when
	// Type is Inlet or Outlet.
	BoundaryID int

	// Normal is the boundary (inlet/outlet) normal, present when Type is
	// Inlet or Outlet.
	Normal [3]float64
	// Distance is the boundary plane distance, present alongside Normal.
	Distance float64

	// WallNormal and WallDistance are present when FlagWallAdjacent is
	// set, regardless of Type.
	WallNormal   [3]float64
	WallDistance float64

	// CutDistance holds one value per non-rest lattice direction
	// (lattice.Q-1 entries), present in the file for every non-solid site
	// regardless of wall adjacency; only wall-adjacent sites give the
	// values lattice meaning.
	CutDistance [lattice.Q - 1]float64
}

// IsWallAdjacent reports whether the site carries a wall normal and cut
// distances.
func (s *Site) IsWallAdjacent() bool {
	return s.Flags&FlagWallAdjacent != 0
}

// IsPressureEdge reports whether the site is flagged as a pressure edge.
func (s *Site) IsPressureEdge() bool {
	return s.Flags&FlagPressureEdge != 0
}

// Block is a fixed B^3 cubic chunk of lattice sites. A solid block (no
// fluid sites) carries no Sites storage at all, matching spec §3's
// "fully solid blocks contribute no body bytes" invariant.
type Block struct {
	I, J, K int

	// SiteCount is the number of non-solid entries the file's header
	// recorded for this block; zero means the block is fully solid.
	SiteCount int

	// Sites is nil for a fully solid block, and has exactly B^3 entries
	// otherwise (row-major within the block, matching the file body).
	Sites []Site
}

// IsSolid reports whether the block has no fluid storage.
func (b *Block) IsSolid() bool {
	return b.SiteCount == 0
}

// Preamble is the fixed-size header at the start of the geometry file.
type Preamble struct {
	StressType uint32
	Bx, By, Bz uint32
	B          uint32
	VoxelSize  float64
	Origin     [3]float64
}

// TotalBlocks returns Bx*By*Bz.
func (p *Preamble) TotalBlocks() int {
	return int(p.Bx) * int(p.By) * int(p.Bz)
}

// BlockIndex returns the row-major index of block (i,j,k), matching the
// order the header and the IBM partitioner both iterate in.
func (p *Preamble) BlockIndex(i, j, k int) int {
	return (i*int(p.By)+j)*int(p.Bz) + k
}

// SiteCoord returns the lattice-wide (i,j,k) of the localIndex-th entry of
// block's Sites slice (row-major within the block, the same order
// readBlockBody/writeBlockBody use), offset by the block's own origin.
func (p *Preamble) SiteCoord(block *Block, localIndex int) (i, j, k int) {
	b := int(p.B)
	lk := localIndex % b
	localIndex /= b
	lj := localIndex % b
	li := localIndex / b
	return block.I*b + li, block.J*b + lj, block.K*b + lk
}

// BlockCoord is the inverse of BlockIndex.
func (p *Preamble) BlockCoord(index int) (i, j, k int) {
	bz := int(p.Bz)
	by := int(p.By)
	k = index % bz
	index /= bz
	j = index % by
	i = index / by
	return
}
