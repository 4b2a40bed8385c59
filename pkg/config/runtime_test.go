package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecNamedValues(t *testing.T) {
	d := Default()
	assert.Equal(t, 52, d.MaxNeighbourProcs)
	assert.Equal(t, 2, d.TreeFanout)
	assert.Equal(t, 10, d.GeometryReadBatchBlocks)
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	contents := `
total_time_steps: 1000
max_neighbour_procs: 8
property_outputs:
  - name: wall_shear
    pattern: "wall*"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.TotalTimeSteps)
	assert.Equal(t, 8, cfg.MaxNeighbourProcs)
	// TreeFanout was not set in the file, so the default survives the merge.
	assert.Equal(t, 2, cfg.TreeFanout)
	require.Len(t, cfg.PropertyOutputs, 1)
	assert.True(t, cfg.PropertyOutputs[0].Matches("wall_inlet_3"))
	assert.False(t, cfg.PropertyOutputs[0].Matches("bulk_7"))
}

func TestLoadRejectsInvalidPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	contents := `
property_outputs:
  - name: bad
    pattern: "["
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
