package lattice

import "github.com/hemelb-go/hemelb/pkg/elog"

var (
	errTopologyInconsistent     = elog.New(elog.TopologyError, "neighbour lookup reported a local fluid site the local enumeration does not contain")
	errSlotCountMismatch        = elog.New(elog.TopologyError, "neighbour-exchange assigned a different number of slots than there are pending links")
	errNeighbourIndexOutOfRange = elog.New(elog.TopologyError, "neighbour index resolved outside the local distribution array")
)
