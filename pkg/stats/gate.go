package stats

import (
	"sync/atomic"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Admit Decision = iota
	RejectUnavailable
	RejectQueueFull
)

// StatusInfo returns the status_info text reported for a rejection.
func (d Decision) StatusInfo() string {
	switch d {
	case RejectUnavailable:
		return protocol.InfoServicePaused
	case RejectQueueFull:
		return protocol.InfoQueueFull
	}
	return ""
}

// Gate decides whether a new request may start.
type Gate struct {
	stats     *Statistics
	maxQueue  int64
	available atomic.Bool
}

// NewGate creates a gate over stats admitting at most maxQueue in-flight
// requests.
func NewGate(stats *Statistics, maxQueue int, available bool) *Gate {
	g := &Gate{stats: stats, maxQueue: int64(maxQueue)}
	g.available.Store(available)
	return g
}

// Available reports whether the service accepts requests.
func (g *Gate) Available() bool {
	return g.available.Load()
}

// SetAvailable flips the availability flag.
func (g *Gate) SetAvailable(v bool) {
	g.available.Store(v)
}

// MaxQueue returns the in-flight limit.
func (g *Gate) MaxQueue() int {
	return int(g.maxQueue)
}

// Admit runs the admission check. On Admit the task is already counted as
// started and the caller must call FinishTask. A full queue counts a skip.
func (g *Gate) Admit() Decision {
	if !g.available.Load() {
		return RejectUnavailable
	}
	s := g.stats
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curTask >= g.maxQueue {
		s.skipLocked()
		return RejectQueueFull
	}
	s.startLocked()
	return Admit
}
