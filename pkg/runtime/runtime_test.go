package runtime

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hemelb-go/hemelb/pkg/config"
	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/geometry"
	"github.com/hemelb-go/hemelb/pkg/render"
	"github.com/hemelb-go/hemelb/pkg/transport"
)

// twoBlockGeometryFile writes a tiny two-block, all-fluid geometry file
// (blocks of 2^3 sites, laid out side by side along x) to a temp file and
// returns its path — enough lattice to force at least one off-rank link
// once the two blocks land on different ranks.
func twoBlockGeometryFile(t *testing.T) string {
	t.Helper()
	p := &geometry.Preamble{
		StressType: 0,
		Bx:         2, By: 1, Bz: 1,
		B:         2,
		VoxelSize: 1e-6,
		Origin:    [3]float64{0, 0, 0},
	}
	b3 := 8
	blocks := make([]geometry.Block, p.TotalBlocks())
	for idx := range blocks {
		i, j, k := p.BlockCoord(idx)
		sites := make([]geometry.Site, b3)
		for s := range sites {
			sites[s] = geometry.Site{Type: geometry.Fluid}
		}
		blocks[idx] = geometry.Block{I: i, J: j, K: k, SiteCount: b3, Sites: sites}
	}

	var buf bytes.Buffer
	require.NoError(t, geometry.Save(&buf, p, blocks))

	dir := t.TempDir()
	path := filepath.Join(dir, "geometry.bin")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestRunDrivesTwoRanksToCompletion(t *testing.T) {
	path := twoBlockGeometryFile(t)

	cfg := config.Default()
	cfg.DataFilePath = path
	cfg.TotalTimeSteps = 3
	cfg.StepsPerCycle = 100

	size := 2
	fabric := transport.NewFabric(size, 8)

	g, ctx := errgroup.WithContext(context.Background())
	reports := make([]StabilityReport, size)
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			log := elog.New(rank, io.Discard)
			rt := New(cfg, fabric, rank, log)
			report, err := rt.Run(ctx)
			reports[rank] = report
			return err
		})
	}
	require.NoError(t, g.Wait())

	for rank, r := range reports {
		assert.Greater(t, r.Step+r.Cycle*cfg.StepsPerCycle, 0, "rank %d should have advanced", rank)
	}
}

func TestRunDrivesImageReducerAlongside(t *testing.T) {
	path := twoBlockGeometryFile(t)

	cfg := config.Default()
	cfg.DataFilePath = path
	cfg.TotalTimeSteps = 2
	cfg.StepsPerCycle = 100
	cfg.TreeFanout = 2
	cfg.MaxInflightRenders = 2

	size := 2
	fabric := transport.NewFabric(size, 8)

	g, ctx := errgroup.WithContext(context.Background())
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			log := elog.New(rank, io.Discard)
			rt := New(cfg, fabric, rank, log)
			rt.RenderEvery = 1
			rt.RenderProducer = func(step int) render.PixelSet {
				return render.PixelSet{{rank, 0}: {X: rank, Y: 0, T: float64(rank), Rank: rank}}
			}
			_, err := rt.Run(ctx)
			return err
		})
	}
	require.NoError(t, g.Wait())
}
