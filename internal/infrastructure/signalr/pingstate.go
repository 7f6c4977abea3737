package signalr

import (
	"sync"
	"time"
)

// PingSnapshot is a read-only copy of the heartbeat bookkeeping.
type PingSnapshot struct {
	LastPing time.Time
	LastPong time.Time
	PongSeen bool
}

// PingState records ping sends and liveness signals for the current session.
type PingState struct {
	mu   sync.Mutex
	snap PingSnapshot
}

func (p *PingState) MarkPing(t time.Time) {
	p.mu.Lock()
	p.snap.LastPing = t
	p.mu.Unlock()
}

func (p *PingState) MarkPong(t time.Time) {
	p.mu.Lock()
	p.snap.LastPong = t
	p.snap.PongSeen = true
	p.mu.Unlock()
}

// Reset clears the state for a new session.
func (p *PingState) Reset() {
	p.mu.Lock()
	p.snap = PingSnapshot{}
	p.mu.Unlock()
}

func (p *PingState) Snapshot() PingSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
