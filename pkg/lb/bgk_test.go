package lb

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemelb-go/hemelb/pkg/lattice"
)

func TestEquilibriumConservesDensityAndMomentum(t *testing.T) {
	density, ux, uy, uz := 1.3, 0.01, -0.02, 0.0
	var f [lattice.Q]float64
	for l := 0; l < lattice.Q; l++ {
		f[l] = equilibrium(l, density, ux, uy, uz)
	}
	gotDensity, gotUx, gotUy, gotUz := macroscopic(f)
	assert.InDelta(t, density, gotDensity, 1e-9)
	assert.InDelta(t, ux, gotUx, 1e-9)
	assert.InDelta(t, uy, gotUy, 1e-9)
	assert.InDelta(t, uz, gotUz, 1e-9)
}

func TestEquilibriumIsFiniteNearRest(t *testing.T) {
	for l := 0; l < lattice.Q; l++ {
		v := equilibrium(l, 1.0, 0, 0, 0)
		assert.False(t, math.IsNaN(v))
	}
}

func TestBGKCollideRelaxesTowardEquilibriumWithoutError(t *testing.T) {
	lld := singleSiteLLD(t)
	for l := 0; l < lattice.Q; l++ {
		lld.FOld[l] = equilibrium(l, 1.0, 0, 0, 0)
	}

	k := BGKKernel{Tau: 0.8}
	var stats Stats
	require.NoError(t, k.Collide(lld, 0, 1, lattice.Bulk, &stats))
	assert.False(t, stats.WentNegative)
}

func TestBGKCollideFlagsNegativeDistribution(t *testing.T) {
	lld := singleSiteLLD(t)
	for l := 0; l < lattice.Q; l++ {
		lld.FOld[l] = 0.01
	}
	lld.FOld[1] = 5.0

	k := BGKKernel{Tau: 0.51}
	var stats Stats
	require.NoError(t, k.Collide(lld, 0, 1, lattice.Bulk, &stats))
	assert.True(t, stats.WentNegative)
}
