// Package halo implements the one-shot neighbour-index exchange and the
// per-timestep halo protocol: the live handshake that lets every pair of
// ranks agree on matching shared-region slot indices, and the seven-step
// collide, stream, send, receive, copy cycle that keeps f_new consistent
// across rank boundaries.
package halo

import (
	"context"
	"encoding/binary"

	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/lattice"
	"github.com/hemelb-go/hemelb/pkg/transport"
)

// MaxNeighbourProcs bounds how many distinct peer ranks a single rank may
// halo-exchange with; a geometry that would require more is rejected as a
// topology the runtime cannot support.
const MaxNeighbourProcs = 52

const exchangeTag = 1

// encodeLinks serialises a peer's pending-link list (its own site's
// coordinate + the direction it streams toward us, in the sender's
// deterministic order) as big-endian (i,j,k,dir) quads, matching the
// project's XDR-style wire convention elsewhere.
func encodeLinks(links []lattice.PendingLink) []byte {
	buf := make([]byte, 0, len(links)*16)
	var tmp [4]byte
	put := func(v int) {
		binary.BigEndian.PutUint32(tmp[:], uint32(int32(v)))
		buf = append(buf, tmp[:]...)
	}
	for _, l := range links {
		put(l.LocalCoord[0])
		put(l.LocalCoord[1])
		put(l.LocalCoord[2])
		put(l.Direction)
	}
	return buf
}

func decodeLinks(payload []byte) []lattice.PendingLink {
	n := len(payload) / 16
	out := make([]lattice.PendingLink, n)
	for i := 0; i < n; i++ {
		off := i * 16
		out[i] = lattice.PendingLink{
			LocalCoord: [3]int{
				int(int32(binary.BigEndian.Uint32(payload[off:]))),
				int(int32(binary.BigEndian.Uint32(payload[off+4:]))),
				int(int32(binary.BigEndian.Uint32(payload[off+8:]))),
			},
			Direction: int(int32(binary.BigEndian.Uint32(payload[off+12:]))),
		}
	}
	return out
}

// ExchangeNeighbourIndices implements the three-step neighbour-index
// protocol for every peer of this rank: the lower-numbered rank of a pair
// is authoritative and numbers its outgoing links 0..count-1 in its own
// deterministic order; the higher-numbered rank receives that list,
// reconstructs the matching (site, direction) pairs in its own coordinate
// frame by displacing by the direction vector and inverting it, and
// assigns each of its own matching pending links the same sequential
// index. Both ranks then call lld.ResolveOffRank so every off-rank
// NeighbourIndex entry is filled in identically from both sides.
func ExchangeNeighbourIndices(ctx context.Context, ep transport.Endpoint, lld *lattice.LocalLatticeData) error {
	if len(lld.Pending) > MaxNeighbourProcs {
		return elog.New(elog.TopologyError, "rank has more neighbour processes than the halo protocol supports")
	}

	rank := ep.Rank()
	for peer, links := range lld.Pending {
		if rank < peer {
			// The lower-numbered rank of the pair is authoritative: it
			// numbers its own outgoing links 0..count-1 and just
			// announces its list, no reply required.
			if err := ep.PostSend(ctx, peer, exchangeTag, encodeLinks(links)); err != nil {
				return err
			}
			slots := make([]int, len(links))
			for i := range slots {
				slots[i] = i
			}
			if err := lld.ResolveOffRank(peer, slots); err != nil {
				return err
			}
			continue
		}

		if err := ep.PostRecv(ctx, peer, exchangeTag); err != nil {
			return err
		}
		envs, err := ep.WaitAll(ctx)
		if err != nil {
			return err
		}
		if len(envs) != 1 {
			return elog.New(elog.ProtocolError, "halo: expected exactly one neighbour-index reply")
		}
		theirs := decodeLinks(envs[0].Payload)

		// Transform each of the peer's tuples into this rank's frame: the
		// peer's tuple names its own site and its direction toward us, so
		// the coordinate it names plus that direction's vector reaches our
		// matching site, which sees it in the inverse direction.
		index := make(map[[4]int]int, len(links))
		for i, l := range links {
			index[[4]int{l.LocalCoord[0], l.LocalCoord[1], l.LocalCoord[2], l.Direction}] = i
		}

		slots := make([]int, len(links))
		filled := make([]bool, len(links))
		for pos, t := range theirs {
			v := lattice.Directions[t.Direction]
			mySite := [3]int{t.LocalCoord[0] + v.X, t.LocalCoord[1] + v.Y, t.LocalCoord[2] + v.Z}
			myDir := lattice.Inverse[t.Direction]
			key := [4]int{mySite[0], mySite[1], mySite[2], myDir}
			i, ok := index[key]
			if !ok {
				return elog.New(elog.TopologyError, "halo: peer's neighbour-index list does not match this rank's geometry")
			}
			slots[i] = pos
			filled[i] = true
		}
		for _, f := range filled {
			if !f {
				return elog.New(elog.TopologyError, "halo: peer's neighbour-index list is missing a link this rank expects")
			}
		}
		if err := lld.ResolveOffRank(peer, slots); err != nil {
			return err
		}
	}
	return nil
}
