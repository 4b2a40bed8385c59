package geometry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemelb-go/hemelb/pkg/lattice"
)

func uniformFluidBlocks(b, bx, by, bz int) (*Preamble, []Block) {
	p := &Preamble{
		StressType: 0,
		Bx:         uint32(bx), By: uint32(by), Bz: uint32(bz),
		B:         uint32(b),
		VoxelSize: 1e-6,
		Origin:    [3]float64{0, 0, 0},
	}
	b3 := b * b * b
	blocks := make([]Block, p.TotalBlocks())
	for idx := range blocks {
		i, j, k := p.BlockCoord(idx)
		sites := make([]Site, b3)
		for s := range sites {
			sites[s] = Site{Type: Fluid}
		}
		blocks[idx] = Block{I: i, J: j, K: k, SiteCount: b3, Sites: sites}
	}
	return p, blocks
}

func TestRoundTripByteIdentical(t *testing.T) {
	p, blocks := uniformFluidBlocks(4, 1, 1, 1)

	buf := new(bytes.Buffer)
	require.NoError(t, Save(buf, p, blocks))
	first := append([]byte(nil), buf.Bytes()...)

	gotP, gotBlocks, _, err := Load(bytes.NewReader(first), nil, 10)
	require.NoError(t, err)
	assert.Equal(t, p, gotP)
	assert.Equal(t, blocks, gotBlocks)

	buf2 := new(bytes.Buffer)
	require.NoError(t, Save(buf2, gotP, gotBlocks))
	assert.Equal(t, first, buf2.Bytes())
}

func TestSolidBlockHasNoBodyBytes(t *testing.T) {
	p := &Preamble{Bx: 2, By: 1, Bz: 1, B: 4, VoxelSize: 1}
	blocks := []Block{
		{I: 0, J: 0, K: 0, SiteCount: 0},
		{I: 1, J: 0, K: 0, SiteCount: 0},
	}
	buf := new(bytes.Buffer)
	require.NoError(t, Save(buf, p, blocks))

	_, got, byteLengths, err := Load(bytes.NewReader(buf.Bytes()), nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 0}, byteLengths)
	for _, b := range got {
		assert.Nil(t, b.Sites)
		assert.True(t, b.IsSolid())
	}
}

func TestRoundTripCutDistancesForEveryNonSolidSite(t *testing.T) {
	p := &Preamble{Bx: 1, By: 1, Bz: 1, B: 2, VoxelSize: 1e-6}
	b3 := 8
	sites := make([]Site, b3)
	for i := range sites {
		switch {
		case i == 0:
			sites[i] = Site{Type: Solid}
		case i == 1:
			sites[i] = Site{Type: Fluid, Flags: FlagWallAdjacent, CutDistance: [lattice.Q - 1]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}}
		default:
			sites[i] = Site{Type: Fluid, CutDistance: [lattice.Q - 1]float64{float64(i)}}
		}
	}
	blocks := []Block{{I: 0, J: 0, K: 0, SiteCount: b3, Sites: sites}}

	buf := new(bytes.Buffer)
	require.NoError(t, Save(buf, p, blocks))

	_, got, byteLengths, err := Load(bytes.NewReader(buf.Bytes()), nil, 10)
	require.NoError(t, err)

	// 1 solid site (packed word only) + 7 non-solid sites (packed word +
	// Q-1 cut distances, one of which also carries a wall normal/distance).
	wantLen := 4 + 7*(4+(lattice.Q-1)*8) + 4*8
	assert.Equal(t, []uint32{uint32(wantLen)}, byteLengths)

	assert.Equal(t, blocks, got)
}

func TestShortPreambleIsFormatError(t *testing.T) {
	_, _, _, err := Load(bytes.NewReader([]byte{0, 1, 2}), nil, 10)
	require.Error(t, err)
}

func TestBlockWantSkipsUnwantedBlocks(t *testing.T) {
	p, blocks := uniformFluidBlocks(2, 2, 1, 1)
	buf := new(bytes.Buffer)
	require.NoError(t, Save(buf, p, blocks))

	_, got, _, err := Load(bytes.NewReader(buf.Bytes()), func(i int) bool { return i == 1 }, 10)
	require.NoError(t, err)
	assert.Nil(t, got[0].Sites)
	assert.NotNil(t, got[1].Sites)
}
