package lb

// ConstantIolets is a reference IoletModel: every boundary id's density is
// fixed at construction time and never varies with cycle or step. Specific
// inlet/outlet pressure and velocity profiles have no concrete model named
// (only DensityAt/UpdateBoundaryDensities are); this is the reference
// implementation that lets Runtime and this package's own tests exercise
// the iterator end-to-end without a real pressure waveform model.
type ConstantIolets struct {
	Densities map[int]float64
}

// DensityAt returns the configured density for boundaryID, or 1.0 (the
// reference density in lattice units) if none was configured.
func (c ConstantIolets) DensityAt(boundaryID, cycle, step int) float64 {
	if d, ok := c.Densities[boundaryID]; ok {
		return d
	}
	return 1.0
}

// UpdateBoundaryDensities is a no-op: a real pressure waveform model would
// recompute its cached densities here once per step.
func (c ConstantIolets) UpdateBoundaryDensities(cycle, step int) error {
	return nil
}
