package repl

import (
	"sync"
	"time"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// Guard implements leader-protected mode: a master that has not observed
// a minimum number of acked slaves within a configured window refuses
// writes. The protection is optional; callers that don't want it simply
// don't construct a Guard.
type Guard struct {
	mu       sync.Mutex
	window   time.Duration
	minAcked int

	acked map[string]time.Time
}

// NewGuard returns a guard requiring at least minAcked distinct slaves to
// have acked within window for writes to be allowed.
func NewGuard(minAcked int, window time.Duration) *Guard {
	return &Guard{minAcked: minAcked, window: window, acked: make(map[string]time.Time)}
}

// RecordAck notes that addr acknowledged replication progress just now.
func (g *Guard) RecordAck(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.acked[addr] = time.Now()
}

// Forget drops a slave from consideration, e.g. on disconnect.
func (g *Guard) Forget(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.acked, addr)
}

func (g *Guard) countFreshLocked(now time.Time) int {
	n := 0

	for _, t := range g.acked {
		if now.Sub(t) <= g.window {
			n++
		}
	}

	return n
}

// Allow reports whether the master currently has enough acked slaves to
// accept writes.
func (g *Guard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.countFreshLocked(time.Now()) >= g.minAcked
}

// Check returns an Unavailable error when the guard would refuse a write,
// the form the applier path consumes directly.
func (g *Guard) Check() error {
	if g.Allow() {
		return nil
	}

	return kverr.New(kverr.KindUnavailable, "repl.Guard.Check", errUnavailable)
}
