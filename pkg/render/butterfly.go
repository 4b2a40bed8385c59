package render

import (
	"context"

	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/transport"
)

const butterflyTagBase = 1 << 17

func butterflyTag(start int) int { return butterflyTagBase + start }

// ButterflyReduce is the instant-broadcast fallback the tree protocol uses
// when a rendering is requested too late to ride the regular pipelined
// splays to completion (spec §4.7): a doubling gather converges every
// rank's contribution onto rank 1 in ceil(log2(size)) rounds — for
// Δ=1,2,4,…, a rank r≡1 (mod 2Δ) with r+Δ<size receives and merges
// rank r+Δ's contribution, after which r+Δ sends nothing further — and a
// single final hop carries the composite from rank 1 to rank 0.
func ButterflyReduce(ctx context.Context, ep transport.Endpoint, start int, local PixelSet) (composite PixelSet, isRoot bool, err error) {
	rank, size := ep.Rank(), ep.Size()
	tag := butterflyTag(start)
	combined := local

	if size == 1 {
		return combined, true, nil
	}

	for delta := 1; delta < size; delta *= 2 {
		mod := rank % (2 * delta)
		switch {
		case mod == 1 && rank+delta < size:
			if err := ep.PostRecv(ctx, rank+delta, tag); err != nil {
				return nil, false, elog.Wrap(elog.ProtocolError, "render: butterfly receive", err)
			}
			envs, err := ep.WaitAll(ctx)
			if err != nil {
				return nil, false, elog.Wrap(elog.ProtocolError, "render: butterfly await", err)
			}
			for _, e := range envs {
				combined = Merge(combined, decode(e.Payload))
			}
		case rank-delta >= 0 && (rank-delta)%(2*delta) == 1:
			if err := ep.PostSend(ctx, rank-delta, tag, encode(combined)); err != nil {
				return nil, false, elog.Wrap(elog.ProtocolError, "render: butterfly send", err)
			}
			return combined, false, nil
		}
	}

	if rank == 1 {
		if err := ep.PostSend(ctx, 0, tag, encode(combined)); err != nil {
			return nil, false, elog.Wrap(elog.ProtocolError, "render: butterfly final hop", err)
		}
		return combined, false, nil
	}
	if rank == 0 {
		if err := ep.PostRecv(ctx, 1, tag); err != nil {
			return nil, false, elog.Wrap(elog.ProtocolError, "render: butterfly final receive", err)
		}
		envs, err := ep.WaitAll(ctx)
		if err != nil {
			return nil, false, elog.Wrap(elog.ProtocolError, "render: butterfly final await", err)
		}
		return Merge(combined, decode(envs[0].Payload)), true, nil
	}
	return combined, false, nil
}
