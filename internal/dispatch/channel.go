package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Channel delivers a call to every participant, head included, and returns
// once all of them have reported. Calls never overlap.
type Channel interface {
	Dispatch(ctx context.Context, tag Tag, payload []byte) error
	Size() int
}

type localCall struct {
	ctx  context.Context
	call Call
	done chan Outcome
}

type localPeer struct {
	mux   *Mux
	inbox chan localCall
}

// LocalGroup is an in-process group. Rank 0 is served inline on the
// dispatching goroutine; every other rank owns one serving goroutine.
type LocalGroup struct {
	mu     sync.Mutex
	seq    uint64
	closed bool
	head   *Mux
	peers  []*localPeer
	wg     sync.WaitGroup
}

// NewLocalGroup starts a group over muxes; muxes[0] is the head.
func NewLocalGroup(muxes ...*Mux) *LocalGroup {
	if len(muxes) == 0 {
		panic("dispatch: local group needs at least the head mux")
	}
	g := &LocalGroup{head: muxes[0]}
	for _, mux := range muxes[1:] {
		p := &localPeer{mux: mux, inbox: make(chan localCall)}
		g.peers = append(g.peers, p)
		g.wg.Add(1)
		go g.serve(p)
	}
	return g
}

func (g *LocalGroup) serve(p *localPeer) {
	defer g.wg.Done()
	for lc := range p.inbox {
		err := p.mux.Serve(lc.ctx, lc.call)
		lc.done <- OutcomeOf(p.mux.Rank(), err)
	}
}

func (g *LocalGroup) Size() int { return len(g.peers) + 1 }

// Dispatch sends the call to every rank. Once sent, it waits for every
// outcome regardless of ctx.
func (g *LocalGroup) Dispatch(ctx context.Context, tag Tag, payload []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.seq++
	call := Call{Seq: g.seq, Tag: tag, Payload: payload}
	start := time.Now()

	done := make(chan Outcome, len(g.peers))
	for _, p := range g.peers {
		p.inbox <- localCall{ctx: ctx, call: call, done: done}
	}
	outcomes := make([]Outcome, 0, g.Size())
	outcomes = append(outcomes, OutcomeOf(g.head.Rank(), g.head.Serve(ctx, call)))
	for range g.peers {
		outcomes = append(outcomes, <-done)
	}

	err := Reconcile(call.Seq, tag, outcomes)
	log.Debug().
		Uint64("seq", call.Seq).
		Stringer("tag", tag).
		Dur("elapsed", time.Since(start)).
		AnErr("result", err).
		Msg("dispatch.local")
	return err
}

// Close stops the serving goroutines after in-flight calls finish.
func (g *LocalGroup) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	for _, p := range g.peers {
		close(p.inbox)
	}
	g.wg.Wait()
}
