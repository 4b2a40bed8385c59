package lb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemelb-go/hemelb/pkg/lattice"
	"github.com/hemelb-go/hemelb/pkg/transport"
)

type passthroughKernel struct{ negative bool }

func (k *passthroughKernel) Collide(lld *lattice.LocalLatticeData, offset, count int, class lattice.CollisionClass, stats *Stats) error {
	for s := offset; s < offset+count; s++ {
		for l := 0; l < lattice.Q; l++ {
			target := lld.NeighbourIndex[s*lattice.Q+l]
			lld.FNew[target] = lld.FOld[s*lattice.Q+l]
		}
	}
	if k.negative {
		stats.WentNegative = true
	}
	return nil
}

type constantIolets struct{ density float64 }

func (c constantIolets) DensityAt(boundaryID, cycle, step int) float64   { return c.density }
func (c constantIolets) UpdateBoundaryDensities(cycle, step int) error { return nil }

func singleSiteLLD(t *testing.T) *lattice.LocalLatticeData {
	t.Helper()
	sites := []lattice.SiteInput{{I: 0, J: 0, K: 0, Class: lattice.Bulk}}
	lookup := func(i, j, k, dir int) (int, bool) { return 0, false }
	lld, err := lattice.BuildLocal(0, sites, lookup)
	require.NoError(t, err)
	require.NoError(t, lld.Finalize())
	return lld
}

func allClasses(k CollisionKernel) map[lattice.CollisionClass]CollisionKernel {
	m := make(map[lattice.CollisionClass]CollisionKernel)
	for c := lattice.CollisionClass(0); c < 6; c++ {
		m[c] = k
	}
	return m
}

func TestStepAdvancesCounterOnStability(t *testing.T) {
	lld := singleSiteLLD(t)
	fabric := transport.NewFabric(1, 1)
	k := &passthroughKernel{}
	it := NewIterator(lld, fabric.Endpoint(0), allClasses(k), constantIolets{density: 1.0}, 5, 2)

	stability, err := it.Step(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, Stable, stability)
	assert.Equal(t, 2, it.Step)
	assert.Equal(t, 1, it.Cycle)
}

func TestStepRestartsOnInstability(t *testing.T) {
	lld := singleSiteLLD(t)
	fabric := transport.NewFabric(1, 1)
	k := &passthroughKernel{negative: true}
	it := NewIterator(lld, fabric.Endpoint(0), allClasses(k), constantIolets{density: 1.0}, 5, 2)

	stability, err := it.Step(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, Unstable, stability)
	assert.Equal(t, 10, it.StepsPerCycle)
	assert.Equal(t, 1, it.Cycle)
	assert.Equal(t, 1, it.Step)
}

func TestStepExhaustsRestartPolicy(t *testing.T) {
	lld := singleSiteLLD(t)
	fabric := transport.NewFabric(1, 1)
	k := &passthroughKernel{negative: true}
	it := NewIterator(lld, fabric.Endpoint(0), allClasses(k), constantIolets{density: 1.0}, 5, 1)

	_, err := it.Step(context.Background(), false)
	require.NoError(t, err)
	_, err = it.Step(context.Background(), false)
	assert.Error(t, err)
}
