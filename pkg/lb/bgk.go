package lb

import (
	"math"

	"github.com/hemelb-go/hemelb/pkg/geometry"
	"github.com/hemelb-go/hemelb/pkg/lattice"
)

// weights is the D3Q15 BGK equilibrium weight set, ordered to match
// lattice.Directions (rest, then the six axis vectors, then the eight
// diagonal vectors).
var weights = [lattice.Q]float64{
	2.0 / 9.0,
	1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0,
	1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0,
}

const speedOfSoundSquared = 1.0 / 3.0

// BGKKernel is a single-relaxation-time collision kernel shared by every
// collision class the bulk and wall sites need; inlet/outlet classes wrap
// it with an iolet-driven density boundary condition (see IoletKernel).
type BGKKernel struct {
	Tau float64 // relaxation time
}

func equilibrium(l int, density float64, ux, uy, uz float64) float64 {
	v := lattice.Directions[l]
	eu := float64(v.X)*ux + float64(v.Y)*uy + float64(v.Z)*uz
	uu := ux*ux + uy*uy + uz*uz
	return weights[l] * density * (1 + eu/speedOfSoundSquared +
		(eu*eu)/(2*speedOfSoundSquared*speedOfSoundSquared) -
		uu/(2*speedOfSoundSquared))
}

func macroscopic(f [lattice.Q]float64) (density, ux, uy, uz float64) {
	for l, v := range f {
		density += v
		dir := lattice.Directions[l]
		ux += v * float64(dir.X)
		uy += v * float64(dir.Y)
		uz += v * float64(dir.Z)
	}
	if density != 0 {
		ux /= density
		uy /= density
		uz /= density
	}
	return
}

// Collide implements the BGK relaxation: read this site's Q distributions
// from FOld, compute density and velocity, relax toward equilibrium, and
// stream the relaxed value into its neighbour_index target in FNew. A
// distribution relaxing to a negative value marks the step unstable.
func (k BGKKernel) Collide(lld *lattice.LocalLatticeData, offset, count int, class lattice.CollisionClass, stats *Stats) error {
	omega := 1.0 / k.Tau
	for s := offset; s < offset+count; s++ {
		var f [lattice.Q]float64
		for l := 0; l < lattice.Q; l++ {
			f[l] = lld.FOld[s*lattice.Q+l]
		}
		density, ux, uy, uz := macroscopic(f)
		for l := 0; l < lattice.Q; l++ {
			eq := equilibrium(l, density, ux, uy, uz)
			relaxed := f[l] - omega*(f[l]-eq)
			if relaxed < 0 || math.IsNaN(relaxed) {
				stats.WentNegative = true
			}
			lld.FNew[lld.NeighbourIndex[s*lattice.Q+l]] = relaxed
		}
	}
	return nil
}

// IoletKernel wraps a BGKKernel with a fixed-density boundary condition
// (spec §6's iolet collaborator): before relaxing, the site's density is
// pinned to the iolet's current value at its boundary id, velocity taken
// from the streamed-in distributions as usual.
type IoletKernel struct {
	Inner  BGKKernel
	Iolets IoletModel
	Cycle, Step *int
}

func (k IoletKernel) Collide(lld *lattice.LocalLatticeData, offset, count int, class lattice.CollisionClass, stats *Stats) error {
	omega := 1.0 / k.Inner.Tau
	cycle, step := 1, 1
	if k.Cycle != nil {
		cycle = *k.Cycle
	}
	if k.Step != nil {
		step = *k.Step
	}
	for s := offset; s < offset+count; s++ {
		var f [lattice.Q]float64
		for l := 0; l < lattice.Q; l++ {
			f[l] = lld.FOld[s*lattice.Q+l]
		}
		_, ux, uy, uz := macroscopic(f)
		site := geometry.UnpackSiteWord(lld.SiteData[s])
		density := k.Iolets.DensityAt(site.BoundaryID, cycle, step)
		for l := 0; l < lattice.Q; l++ {
			eq := equilibrium(l, density, ux, uy, uz)
			relaxed := f[l] - omega*(f[l]-eq)
			if relaxed < 0 || math.IsNaN(relaxed) {
				stats.WentNegative = true
			}
			lld.FNew[lld.NeighbourIndex[s*lattice.Q+l]] = relaxed
		}
	}
	return nil
}
