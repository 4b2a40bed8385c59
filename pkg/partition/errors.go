package partition

import "github.com/hemelb-go/hemelb/pkg/elog"

var (
	errFluidCounts       = elog.New(elog.PartitionError, "fluidSitesPerBlock length does not match lattice block count")
	errNoRanksAvailable  = elog.New(elog.PartitionError, "no ranks available after reserving the leader")
	errRanOutOfRanks     = elog.New(elog.PartitionError, "ran out of ranks before every fluid block was assigned")
	errEmptyRankAfterRefine = elog.New(elog.PartitionError, "refine left a rank with zero fluid sites")
	errPartOutOfRange    = elog.New(elog.PartitionError, "graph partitioner returned a part index out of range")
)
