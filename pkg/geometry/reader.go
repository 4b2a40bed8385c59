package geometry

import (
	"io"

	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/lattice"
	"github.com/hemelb-go/hemelb/pkg/xdr"
	"github.com/pkg/errors"
)

// BlockWant is called once per block index (row-major, see
// Preamble.BlockIndex) to decide whether that block's body should be
// decoded. A nil BlockWant means "load every block" — used for the
// single-rank scenarios and for the load/save/load round-trip property.
type BlockWant func(blockIndex int) bool

// Load decodes the preamble, the per-block header, and the body of every
// block for which want returns true (or every block, when want is nil),
// from r. It returns the preamble, one Block per block index in the
// lattice (row-major, unwanted or solid blocks left with Sites == nil),
// and the per-block byte-length table from the header — callers needing
// to stream further batches of the body (the collective parallel I/O batch
// loop, driven by pkg/runtime) can use the byte lengths to seek past
// blocks they don't want without decoding them.
//
// Failure modes match spec §4.1: a short preamble/header read is a
// FormatError; Load does not itself open files (callers pass an
// io.ReadSeeker), so IoError is the caller's responsibility when opening
// path fails.
func Load(r io.ReadSeeker, want BlockWant, batchBlocks int) (*Preamble, []Block, []uint32, error) {
	if batchBlocks <= 0 {
		batchBlocks = 10
	}

	preamble, err := readPreamble(r)
	if err != nil {
		return nil, nil, nil, err
	}

	total := preamble.TotalBlocks()
	siteCounts := make([]uint32, total)
	byteLengths := make([]uint32, total)

	xr := xdr.NewReader(r)
	for i := 0; i < total; i++ {
		siteCounts[i] = xr.U32()
		byteLengths[i] = xr.U32()
	}
	if xr.Err() != nil {
		return nil, nil, nil, elog.Wrap(elog.FormatError, "short header read", xr.Err())
	}

	var bodyLen int64
	for _, n := range byteLengths {
		bodyLen += int64(n)
	}
	fileSize, err := fileSize(r)
	if err != nil {
		return nil, nil, nil, err
	}
	preambleSize, headerSize := preambleByteSize(), int64(total)*8
	if fileSize-preambleSize-headerSize != bodyLen {
		return nil, nil, nil, elog.New(elog.FormatError, "body byte-length sum does not match file size")
	}

	blocks := make([]Block, total)
	for i := range blocks {
		bi, bj, bk := preamble.BlockCoord(i)
		blocks[i] = Block{I: bi, J: bj, K: bk, SiteCount: int(siteCounts[i])}
	}

	b3 := int(preamble.B) * int(preamble.B) * int(preamble.B)
	for start := 0; start < total; start += batchBlocks {
		end := start + batchBlocks
		if end > total {
			end = total
		}
		for i := start; i < end; i++ {
			if siteCounts[i] == 0 {
				continue
			}
			if want != nil && !want(i) {
				if _, err := r.Seek(int64(byteLengths[i]), io.SeekCurrent); err != nil {
					return nil, nil, nil, errors.Wrap(err, "seeking past unwanted block body")
				}
				continue
			}
			sites, err := readBlockBody(r, b3)
			if err != nil {
				return nil, nil, nil, err
			}
			blocks[i].Sites = sites
		}
	}

	return preamble, blocks, byteLengths, nil
}

func readPreamble(r io.Reader) (*Preamble, error) {
	xr := xdr.NewReader(r)
	p := &Preamble{
		StressType: xr.U32(),
		Bx:         xr.U32(),
		By:         xr.U32(),
		Bz:         xr.U32(),
		B:          xr.U32(),
		VoxelSize:  xr.F64(),
	}
	p.Origin = [3]float64{xr.F64(), xr.F64(), xr.F64()}
	if xr.Err() != nil {
		return nil, elog.Wrap(elog.FormatError, "short preamble read", xr.Err())
	}
	if p.B == 0 || (p.B&(p.B-1)) != 0 {
		return nil, elog.New(elog.FormatError, "block size B must be a power of two")
	}
	return p, nil
}

func preambleByteSize() int64 {
	// 5 x u32 + 4 x f64
	return 5*4 + 4*8
}

func fileSize(r io.Seeker) (int64, error) {
	cur, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, errors.Wrap(err, "determining current file offset")
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "seeking to end of file")
	}
	if _, err := r.Seek(cur, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "restoring file offset")
	}
	return size, nil
}

func readBlockBody(r io.Reader, b3 int) ([]Site, error) {
	xr := xdr.NewReader(r)
	sites := make([]Site, b3)
	for i := range sites {
		word := xr.U32()
		site := unpackSiteWord(word)

		if site.Type == Inlet || site.Type == Outlet {
			site.Normal = [3]float64{xr.F64(), xr.F64(), xr.F64()}
			site.Distance = xr.F64()
		}
		if site.IsWallAdjacent() {
			site.WallNormal = [3]float64{xr.F64(), xr.F64(), xr.F64()}
			site.WallDistance = xr.F64()
		}
		if site.Type != Solid {
			var cut [lattice.Q - 1]float64
			for d := range cut {
				cut[d] = xr.F64()
			}
			site.CutDistance = cut
		}
		sites[i] = site
	}
	if xr.Err() != nil {
		return nil, elog.Wrap(elog.FormatError, "short site record read", xr.Err())
	}
	return sites, nil
}
