// Package transport stands in for the MPI layer the original runtime is
// built on. No message-passing binding exists anywhere in this module's
// dependency set, so ranks are simulated as goroutines, each bound to an
// Endpoint, exchanging messages over buffered channels and coordinated
// through golang.org/x/sync/errgroup for collective abort semantics: if
// any rank's goroutine returns an error, every other rank's blocking
// Endpoint call is cancelled via the shared context.
package transport

import (
	"context"

	"github.com/hemelb-go/hemelb/pkg/elog"
)

// Envelope is one message in flight between two ranks.
type Envelope struct {
	From    int
	Tag     int
	Payload []byte
}

// Endpoint is this rank's view of the fabric: post sends and receives,
// then block until every posted operation completes.
type Endpoint interface {
	Rank() int
	Size() int

	// PostSend places payload in the inbox of `to`, tagged with tag. It
	// returns once the inbox has accepted the message, blocking only while
	// that inbox's buffer is full; WaitAll does not track sends.
	PostSend(ctx context.Context, to, tag int, payload []byte) error

	// PostRecv registers interest in a message from `from` tagged tag; the
	// message is returned by the next WaitAll.
	PostRecv(ctx context.Context, from, tag int) error

	// WaitAll blocks until every PostSend/PostRecv posted since the last
	// WaitAll has completed, and returns delivered envelopes for every
	// posted receive, ordered the same as the PostRecv calls.
	WaitAll(ctx context.Context) ([]Envelope, error)
}

// Fabric is the collection of Endpoints simulating one MPI communicator.
type Fabric struct {
	endpoints []*chanEndpoint
}

// NewFabric builds a Fabric of size ranks, each with an inbox of the given
// buffer depth per peer.
func NewFabric(size, inboxDepth int) *Fabric {
	inboxes := make([]chan Envelope, size)
	for i := range inboxes {
		inboxes[i] = make(chan Envelope, inboxDepth*size)
	}
	f := &Fabric{endpoints: make([]*chanEndpoint, size)}
	for r := 0; r < size; r++ {
		f.endpoints[r] = &chanEndpoint{
			rank:    r,
			size:    size,
			inboxes: inboxes,
		}
	}
	return f
}

// Endpoint returns the rank-th simulated rank's Endpoint.
func (f *Fabric) Endpoint(rank int) Endpoint { return f.endpoints[rank] }

type pendingRecv struct {
	from, tag int
}

type chanEndpoint struct {
	rank, size int
	inboxes    []chan Envelope

	pending []pendingRecv
}

func (e *chanEndpoint) Rank() int { return e.rank }
func (e *chanEndpoint) Size() int { return e.size }

func (e *chanEndpoint) PostSend(ctx context.Context, to, tag int, payload []byte) error {
	if to < 0 || to >= e.size {
		return elog.New(elog.ProtocolError, "transport: send target rank out of range")
	}
	env := Envelope{From: e.rank, Tag: tag, Payload: payload}
	select {
	case e.inboxes[to] <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *chanEndpoint) PostRecv(ctx context.Context, from, tag int) error {
	e.pending = append(e.pending, pendingRecv{from: from, tag: tag})
	return nil
}

// WaitAll drains this rank's inbox until every pending PostRecv is
// satisfied; messages destined for a later-posted tag are held in a local
// backlog so out-of-order delivery does not deadlock collection.
func (e *chanEndpoint) WaitAll(ctx context.Context) ([]Envelope, error) {
	want := e.pending
	e.pending = nil

	results := make([]Envelope, len(want))
	found := make([]bool, len(want))
	remaining := len(want)

	var backlog []Envelope

	matchBacklog := func() {
		for i := 0; i < len(backlog) && remaining > 0; i++ {
			env := backlog[i]
			for w, p := range want {
				if found[w] || p.from != env.From || p.tag != env.Tag {
					continue
				}
				results[w] = env
				found[w] = true
				remaining--
				backlog = append(backlog[:i], backlog[i+1:]...)
				i--
				break
			}
		}
	}

	for remaining > 0 {
		select {
		case env := <-e.inboxes[e.rank]:
			matched := false
			for w, p := range want {
				if found[w] || p.from != env.From || p.tag != env.Tag {
					continue
				}
				results[w] = env
				found[w] = true
				remaining--
				matched = true
				break
			}
			if !matched {
				backlog = append(backlog, env)
			}
			matchBacklog()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}
