package halo

import (
	"bytes"
	"context"

	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/lattice"
	"github.com/hemelb-go/hemelb/pkg/transport"
	"github.com/hemelb-go/hemelb/pkg/xdr"
)

const stepTag = 2

// CollideStream runs the collision-and-stream kernel for the sites in
// [offset, offset+count) of a given collision class, writing every
// direction's post-collision value into FNew at the flat index named by
// NeighbourIndex. Implementations are provided by pkg/lb; this package only
// sequences inner/inter ranges around the network operations.
type CollideStream func(offset, count int, class lattice.CollisionClass) error

// Step implements the seven-step halo protocol: post receives, collide and
// stream every inter-site (this also produces the values destined for this
// rank's own send slots), post sends of the freshly written send region,
// collide and stream every inner-site while the network is in flight, wait
// for completion, then copy the receive region into its pre-computed
// targets before the caller swaps FOld/FNew.
func Step(ctx context.Context, ep transport.Endpoint, lld *lattice.LocalLatticeData, collide CollideStream) error {
	for _, p := range lld.Peers {
		if p.SharedCount == 0 {
			continue
		}
		if err := ep.PostRecv(ctx, p.Rank, stepTag); err != nil {
			return err
		}
	}

	if err := runRanges(lld.InterOffset, lld.InterCount, collide); err != nil {
		return err
	}

	for _, p := range lld.Peers {
		if p.SharedCount == 0 {
			continue
		}
		base := lld.N*lattice.Q + 1 + p.FirstSharedIndex
		payload := encodeFloats(lld.FNew[base : base+p.SharedCount])
		if err := ep.PostSend(ctx, p.Rank, stepTag, payload); err != nil {
			return err
		}
	}

	if err := runRanges(lld.InnerOffset, lld.InnerCount, collide); err != nil {
		return err
	}

	envs, err := ep.WaitAll(ctx)
	if err != nil {
		return err
	}

	byRank := make(map[int][]byte, len(envs))
	for _, e := range envs {
		byRank[e.From] = e.Payload
	}
	for _, p := range lld.Peers {
		if p.SharedCount == 0 {
			continue
		}
		payload, ok := byRank[p.Rank]
		if !ok {
			return elog.New(elog.ProtocolError, "halo: missing receive from a neighbour rank")
		}
		values := decodeFloats(payload)
		if len(values) != p.SharedCount {
			return elog.New(elog.ProtocolError, "halo: received shared region of unexpected size")
		}
		for i, v := range values {
			slot := p.FirstSharedIndex + i
			lld.FOld[lld.N*lattice.Q+1+slot] = v
			target := lld.RecvTarget[slot]
			lld.FNew[target] = v
		}
	}
	return nil
}

func runRanges(offset, count [6]int, collide CollideStream) error {
	for c := lattice.CollisionClass(0); int(c) < len(count); c++ {
		if count[c] == 0 {
			continue
		}
		if err := collide(offset[c], count[c], c); err != nil {
			return err
		}
	}
	return nil
}

func encodeFloats(vs []float64) []byte {
	var buf bytes.Buffer
	w := xdr.NewWriter(&buf)
	w.F64Slice(vs)
	return buf.Bytes()
}

func decodeFloats(b []byte) []float64 {
	r := xdr.NewReader(bytes.NewReader(b))
	return r.F64N(len(b) / 8)
}
