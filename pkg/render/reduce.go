package render

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/transport"
)

// reduceTagBase offsets a rendering's start iteration into the transport's
// tag space so that concurrently in-flight renderings never collide with
// each other, or with the halo exchange's own tags.
const reduceTagBase = 1 << 16

// The two splays of spec §4.7: splay 0 exchanges pixel counts, splay 1
// exchanges pixel payloads. Every (start, splay) pair gets its own tag so
// WaitAll can tell one rendering's in-flight splay apart from another's.
const (
	splayCount = iota
	splayPayload
)

func reduceTag(start, splay int) int { return reduceTagBase + start*2 + splay }

// Rendering is one in-flight image capture, keyed by the LB iteration at
// which rank 0 requested it (spec §4.7's start_iteration). Its local field
// starts as the rank's own rendered pixel set and accumulates every
// child's contribution as the upward pass reaches this rank's tree level;
// Composite is only ever set on rank 0, once the whole tree has combined.
type Rendering struct {
	Start     int
	Composite PixelSet // valid once Wait has returned nil, and only at rank 0
	Err       error

	local       PixelSet
	instant     bool
	readyToEmit bool
	closed      bool
	done        chan struct{}
}

// Wait blocks until the rendering's reduction has completed or ctx is
// cancelled.
func (r *Rendering) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Rendering) finish(composite PixelSet, isRoot bool, err error) {
	if r.closed {
		return
	}
	r.closed = true
	r.Err = err
	if isRoot {
		r.Composite = composite
	}
	close(r.done)
}

// Reducer drives every in-flight Rendering through spec §4.7's phased,
// splay-by-splay schedule, one iteration at a time: Submit performs
// initial_action (captures the local pixel set, or triggers the
// instant-broadcast fallback when the round trip wouldn't finish before
// the run ends), and Advance performs request_comms/post_receive for the
// current iteration across every Rendering still in flight. Advance must
// be called once per LB iteration, on every rank, whether or not that
// rank started a rendering this iteration — a rendering mid-splay still
// needs every rank on its tree path to progress it.
type Reducer struct {
	Tree        Tree
	Endpoint    transport.Endpoint
	MaxInflight int
	Overlap     int
	TotalSteps  int // 0 disables the instant-broadcast deadline check

	mu       sync.Mutex
	inflight map[int]*Rendering
}

func NewReducer(ep transport.Endpoint, tree Tree, maxInflight, overlap, totalSteps int) *Reducer {
	return &Reducer{
		Tree:        tree,
		Endpoint:    ep,
		MaxInflight: maxInflight,
		Overlap:     overlap,
		TotalSteps:  totalSteps,
		inflight:    make(map[int]*Rendering),
	}
}

// Submit begins a rendering for local, captured at iteration start. It
// returns a ProtocolError if max_inflight renderings are already
// outstanding. When the tree's round trip would not complete before
// TotalSteps, or size is 1, the rendering finishes immediately (the
// one-rank case) or via ButterflyReduce instead of the phased schedule —
// Advance then ignores it.
func (r *Reducer) Submit(ctx context.Context, start int, local PixelSet) (*Rendering, error) {
	r.mu.Lock()
	if len(r.inflight) >= r.MaxInflight {
		r.mu.Unlock()
		return nil, elog.New(elog.ProtocolError, "render: max_inflight renderings already outstanding")
	}
	rend := &Rendering{Start: start, local: local, done: make(chan struct{})}
	r.inflight[start] = rend

	finish := start + r.Tree.RoundTripLength(r.Overlap) - 1
	tooLate := r.TotalSteps > 0 && finish > r.TotalSteps-1
	singleRank := r.Endpoint.Size() == 1
	r.mu.Unlock()

	switch {
	case singleRank:
		rend.finish(local, true, nil)
	case tooLate:
		rend.instant = true
		go func() {
			composite, isRoot, err := ButterflyReduce(ctx, r.Endpoint, start, local)
			rend.finish(composite, isRoot, err)
		}()
	}

	return rend, nil
}

// Forget drops completed bookkeeping for start so a future rendering can
// reuse an inflight slot; callers call this after consuming the result
// from Submit's returned Rendering.
func (r *Reducer) Forget(start int) {
	r.mu.Lock()
	delete(r.inflight, start)
	r.mu.Unlock()
}

// Advance runs request_comms(iteration) and post_receive(iteration)
// against every Rendering still in flight: for each one, (i - start) and
// this rank's tree position (spec §4.7) decide whether this iteration is
// that rendering's turn to receive a splay from its children, send a
// splay to its parent, or do nothing. A rendering already finished by
// Submit's instant-broadcast path is skipped entirely.
func (r *Reducer) Advance(ctx context.Context, iteration int) error {
	rank := r.Endpoint.Rank()
	children := r.Tree.Children(rank)
	parent, hasParent := r.Tree.Parent(rank)
	recvCount, recvPayload, hasChildren := r.Tree.childSplayProgress(rank)
	sendCount, sendPayload, _ := r.Tree.parentSplayProgress(rank)

	r.mu.Lock()
	renderings := make([]*Rendering, 0, len(r.inflight))
	for _, rend := range r.inflight {
		renderings = append(renderings, rend)
	}
	r.mu.Unlock()

	type awaitingRecv struct {
		rend  *Rendering
		splay int
	}
	var awaiting []awaitingRecv

	for _, rend := range renderings {
		if rend.instant || rend.closed {
			continue
		}
		progress := iteration - rend.Start
		if progress < 0 {
			continue
		}

		finishAt := r.Tree.RoundTripLength(r.Overlap) - 1
		if rend.readyToEmit && !hasParent && progress == finishAt {
			rend.finish(rend.local, true, nil)
			continue
		}

		switch {
		case hasChildren && progress == recvCount:
			for _, c := range children {
				if err := r.Endpoint.PostRecv(ctx, c, reduceTag(rend.Start, splayCount)); err != nil {
					return elog.Wrap(elog.ProtocolError, "render: post receive count splay", err)
				}
			}
			awaiting = append(awaiting, awaitingRecv{rend, splayCount})
		case hasChildren && progress == recvPayload:
			for _, c := range children {
				if err := r.Endpoint.PostRecv(ctx, c, reduceTag(rend.Start, splayPayload)); err != nil {
					return elog.Wrap(elog.ProtocolError, "render: post receive payload splay", err)
				}
			}
			awaiting = append(awaiting, awaitingRecv{rend, splayPayload})
		case hasParent && progress == sendCount:
			var count [4]byte
			binary.BigEndian.PutUint32(count[:], uint32(len(rend.local)))
			if err := r.Endpoint.PostSend(ctx, parent, reduceTag(rend.Start, splayCount), count[:]); err != nil {
				return elog.Wrap(elog.ProtocolError, "render: send count splay", err)
			}
		case hasParent && progress == sendPayload:
			if err := r.Endpoint.PostSend(ctx, parent, reduceTag(rend.Start, splayPayload), encode(rend.local)); err != nil {
				return elog.Wrap(elog.ProtocolError, "render: send payload splay", err)
			}
			rend.finish(rend.local, false, nil)
		}
	}

	if len(awaiting) == 0 {
		return nil
	}

	envs, err := r.Endpoint.WaitAll(ctx)
	if err != nil {
		return elog.Wrap(elog.ProtocolError, "render: await splay", err)
	}

	idx := 0
	for _, a := range awaiting {
		batch := envs[idx : idx+len(children)]
		idx += len(children)

		switch a.splay {
		case splayCount:
			// The count splay's only job is to occupy its iteration in
			// the schedule; with variable-length messages over the
			// simulated fabric there is no preallocation for it to
			// drive, so post_receive has nothing further to do here.
		case splayPayload:
			for _, e := range batch {
				a.rend.local = Merge(a.rend.local, decode(e.Payload))
			}
			if !hasParent {
				finishAt := r.Tree.RoundTripLength(r.Overlap) - 1
				if iteration-a.rend.Start == finishAt {
					a.rend.finish(a.rend.local, true, nil)
				} else {
					a.rend.readyToEmit = true
				}
			}
		}
	}
	return nil
}
