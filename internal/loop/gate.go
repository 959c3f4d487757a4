package loop

import (
	"context"
	"sync"
)

// pauseGate is the "pause gate" the runner awaits at the top of each
// iteration (spec §4.5). It's a small channel-swap primitive: no library in
// the example corpus models this narrow a synchronization need, so it's
// hand-rolled rather than forced onto an ill-fitting dependency.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{ch: ch}
}

// Pause installs a fresh, unclosed gate; subsequent Wait calls block.
func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// Resume releases the current gate, unblocking any waiters.
func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

// Wait blocks until the gate is open or ctx is done.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
