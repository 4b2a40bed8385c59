package transport

import "context"

const reduceTag = 99

// AllReduceOr performs a logical-OR all-reduce of local across every rank
// in the fabric, implemented as a gather to rank 0 followed by a broadcast
// of the combined result — the global max-reduction the LB iterator uses
// to detect instability (a negative distribution on any rank must abort
// every rank's iteration, not just the one that saw it).
func AllReduceOr(ctx context.Context, ep Endpoint, local bool) (bool, error) {
	rank, size := ep.Rank(), ep.Size()
	if size == 1 {
		return local, nil
	}

	if rank != 0 {
		if err := ep.PostSend(ctx, 0, reduceTag, boolBytes(local)); err != nil {
			return false, err
		}
		if err := ep.PostRecv(ctx, 0, reduceTag); err != nil {
			return false, err
		}
		envs, err := ep.WaitAll(ctx)
		if err != nil {
			return false, err
		}
		return envs[0].Payload[0] != 0, nil
	}

	result := local
	for r := 1; r < size; r++ {
		if err := ep.PostRecv(ctx, r, reduceTag); err != nil {
			return false, err
		}
	}
	envs, err := ep.WaitAll(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range envs {
		if e.Payload[0] != 0 {
			result = true
		}
	}
	for r := 1; r < size; r++ {
		if err := ep.PostSend(ctx, r, reduceTag, boolBytes(result)); err != nil {
			return false, err
		}
	}
	return result, nil
}

func boolBytes(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}
