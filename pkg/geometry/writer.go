package geometry

import (
	"io"

	"github.com/hemelb-go/hemelb/pkg/xdr"
)

// Save encodes preamble and blocks to w, producing a file byte-identical
// to what Load would need to read back the same blocks — the load -> save
// -> load round trip invariant (spec §8, property 5) depends on Save and
// Load agreeing on every field order and width.
//
// blocks must be indexed exactly as Preamble.BlockIndex produces (one
// entry per block, row-major); a block with SiteCount == 0 must have
// Sites == nil.
func Save(w io.Writer, preamble *Preamble, blocks []Block) error {
	xw := xdr.NewWriter(w)

	xw.U32(preamble.StressType)
	xw.U32(preamble.Bx)
	xw.U32(preamble.By)
	xw.U32(preamble.Bz)
	xw.U32(preamble.B)
	xw.F64(preamble.VoxelSize)
	xw.F64Slice(preamble.Origin[:])

	b3 := int(preamble.B) * int(preamble.B) * int(preamble.B)
	byteLengths := make([]uint32, len(blocks))
	for i, b := range blocks {
		if b.SiteCount == 0 {
			byteLengths[i] = 0
			continue
		}
		byteLengths[i] = uint32(blockBodyByteLength(b.Sites, b3))
	}

	for i, b := range blocks {
		xw.U32(uint32(b.SiteCount))
		xw.U32(byteLengths[i])
	}

	for _, b := range blocks {
		if b.SiteCount == 0 {
			continue
		}
		writeBlockBody(xw, b.Sites)
	}

	return xw.Err()
}

func blockBodyByteLength(sites []Site, b3 int) int {
	n := 0
	for i := 0; i < b3; i++ {
		s := &sites[i]
		n += 4 // packed word
		if s.Type == Inlet || s.Type == Outlet {
			n += 4 * 8
		}
		if s.IsWallAdjacent() {
			n += 4 * 8
		}
		if s.Type != Solid {
			n += len(s.CutDistance) * 8
		}
	}
	return n
}

func writeBlockBody(xw *xdr.Writer, sites []Site) {
	for i := range sites {
		s := &sites[i]
		xw.U32(packSiteWord(s))

		if s.Type == Inlet || s.Type == Outlet {
			xw.F64Slice(s.Normal[:])
			xw.F64(s.Distance)
		}
		if s.IsWallAdjacent() {
			xw.F64Slice(s.WallNormal[:])
			xw.F64(s.WallDistance)
		}
		if s.Type != Solid {
			xw.F64Slice(s.CutDistance[:])
		}
	}
}
