// Package lb implements the LB iterator (spec §4.6): one step updates
// boundary densities, runs the halo protocol, optionally emits render
// samples, and detects instability via a global reduction, restarting the
// cycle when one is found.
package lb

import (
	"context"
	"math"

	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/geometry"
	"github.com/hemelb-go/hemelb/pkg/halo"
	"github.com/hemelb-go/hemelb/pkg/lattice"
	"github.com/hemelb-go/hemelb/pkg/transport"
)

// Stability is the per-step outcome the iterator reports.
type Stability int

const (
	Stable Stability = iota
	StableAndConverged
	Unstable
)

func (s Stability) String() string {
	switch s {
	case Stable:
		return "stable"
	case StableAndConverged:
		return "stable-and-converged"
	case Unstable:
		return "unstable"
	default:
		return "unknown"
	}
}

// Stats accumulates per-kernel-invocation diagnostics (out_stats in spec
// §6): a kernel reports whether it produced a negative distribution so the
// iterator's instability check never has to re-scan f_new itself.
type Stats struct {
	WentNegative bool
}

// CollisionKernel is the external collaborator of spec §6: one
// implementation per collision class, invoked once for the inter-site
// range and once for the inner-site range each step.
type CollisionKernel interface {
	Collide(lld *lattice.LocalLatticeData, offset, count int, class lattice.CollisionClass, stats *Stats) error
}

// IoletModel is the external collaborator supplying boundary densities.
type IoletModel interface {
	DensityAt(boundaryID, cycle, step int) float64
	UpdateBoundaryDensities(cycle, step int) error
}

// SiteSample is one (density, velocity-magnitude, stress) observation
// handed to the image pipeline's register_site hook during a render step.
// The iterator fills Density and VelocityMagnitude; it computes no stress,
// so Stress is always zero.
type SiteSample struct {
	Site             int
	Density          float64
	VelocityMagnitude float64
	Stress           float64
}

// RegisterSite is the image pipeline hook invoked once per touched site
// when a step renders.
type RegisterSite func(SiteSample)

// ConvergenceCheck reports whether the simulation has reached the
// configured relative tolerance; nil disables convergence termination.
type ConvergenceCheck func(lld *lattice.LocalLatticeData) bool

// Iterator runs the per-step LB loop for one rank.
type Iterator struct {
	LLD      *lattice.LocalLatticeData
	Endpoint transport.Endpoint
	Kernels  map[lattice.CollisionClass]CollisionKernel
	Iolets   IoletModel
	Register RegisterSite
	Converged ConvergenceCheck

	StepsPerCycle int
	Cycle         int
	Step          int

	restarts int
	maxRestarts int
}

// NewIterator builds an Iterator with the given initial per-cycle step
// count; maxRestarts bounds how many times the instability policy may
// double the cycle length before the iterator gives up with an
// InstabilityError (spec §7's "restart policy has been exhausted").
func NewIterator(lld *lattice.LocalLatticeData, ep transport.Endpoint, kernels map[lattice.CollisionClass]CollisionKernel, iolets IoletModel, stepsPerCycle, maxRestarts int) *Iterator {
	return &Iterator{
		LLD:           lld,
		Endpoint:      ep,
		Kernels:       kernels,
		Iolets:        iolets,
		StepsPerCycle: stepsPerCycle,
		Cycle:         1,
		Step:          1,
		maxRestarts:   maxRestarts,
	}
}

// Step implements spec §4.6's operation: update boundary densities, run
// the halo protocol, optionally render, detect instability via a global
// reduction, and on instability apply the restart policy. When the restart
// policy itself would need to fire again past maxRestarts, it returns an
// InstabilityError instead of restarting forever.
func (it *Iterator) Step(ctx context.Context, performRender bool) (Stability, error) {
	if err := it.Iolets.UpdateBoundaryDensities(it.Cycle, it.Step); err != nil {
		return Unstable, err
	}

	var stats Stats
	collide := func(offset, count int, class lattice.CollisionClass) error {
		k, ok := it.Kernels[class]
		if !ok {
			return elog.New(elog.TopologyError, "no collision kernel registered for this class")
		}
		return k.Collide(it.LLD, offset, count, class, &stats)
	}

	if err := halo.Step(ctx, it.Endpoint, it.LLD, collide); err != nil {
		return Unstable, err
	}

	if performRender && it.Register != nil {
		it.emitSamples()
	}

	localUnstable := stats.WentNegative
	globalUnstable, err := transport.AllReduceOr(ctx, it.Endpoint, localUnstable)
	if err != nil {
		return Unstable, err
	}

	it.LLD.FOld, it.LLD.FNew = it.LLD.FNew, it.LLD.FOld

	if globalUnstable {
		if it.restarts >= it.maxRestarts {
			return Unstable, elog.New(elog.InstabilityError, "instability persisted after exhausting the restart policy")
		}
		it.restart()
		return Unstable, nil
	}

	it.Step++
	if it.Step > it.StepsPerCycle {
		it.Step = 1
		it.Cycle++
	}

	if it.Converged != nil && it.Converged(it.LLD) {
		return StableAndConverged, nil
	}
	return Stable, nil
}

// Restarts reports how many times the restart policy has fired so far.
func (it *Iterator) Restarts() int { return it.restarts }

// restart implements spec §4.6's restart policy: double the per-cycle
// step count, re-initialise every distribution to the equilibrium at the
// average outlet density and zero velocity, and reset the counters back to
// cycle 1 step 1.
func (it *Iterator) restart() {
	it.restarts++
	it.StepsPerCycle *= 2
	it.Cycle = 1
	it.Step = 1
	rho := averageOutletDensity(it.Iolets, it.LLD)
	for i := range it.LLD.FOld {
		it.LLD.FOld[i] = equilibrium(i%lattice.Q, rho, 0, 0, 0)
	}
	for i := range it.LLD.FNew {
		it.LLD.FNew[i] = equilibrium(i%lattice.Q, rho, 0, 0, 0)
	}
}

func averageOutletDensity(iolets IoletModel, lld *lattice.LocalLatticeData) float64 {
	total, count := 0.0, 0
	for i := lld.InnerOffset[lattice.Outlet]; i < lld.InnerOffset[lattice.Outlet]+lld.InnerCount[lattice.Outlet]; i++ {
		total += iolets.DensityAt(geometry.UnpackSiteWord(lld.SiteData[i]).BoundaryID, 1, 1)
		count++
	}
	for i := lld.InterOffset[lattice.Outlet]; i < lld.InterOffset[lattice.Outlet]+lld.InterCount[lattice.Outlet]; i++ {
		total += iolets.DensityAt(geometry.UnpackSiteWord(lld.SiteData[i]).BoundaryID, 1, 1)
		count++
	}
	if count == 0 {
		return 1.0
	}
	return total / float64(count)
}

func (it *Iterator) emitSamples() {
	emitRange := func(offset, count int) {
		for s := offset; s < offset+count; s++ {
			var f [lattice.Q]float64
			for l := 0; l < lattice.Q; l++ {
				f[l] = it.LLD.FNew[s*lattice.Q+l]
			}
			density, ux, uy, uz := macroscopic(f)
			it.Register(SiteSample{Site: s, Density: density, VelocityMagnitude: math.Sqrt(ux*ux + uy*uy + uz*uz)})
		}
	}
	for c := lattice.CollisionClass(0); c < 6; c++ {
		emitRange(it.LLD.InnerOffset[c], it.LLD.InnerCount[c])
		emitRange(it.LLD.InterOffset[c], it.LLD.InterCount[c])
	}
}
