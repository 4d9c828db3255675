// Package discovery keeps balancer pools in sync with endpoint heartbeats
// received over COMMS.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/commsutil"
	"github.com/morezero/rpcmesh/pkg/events"
)

const logPrefix = "discovery:watcher"

type poolID struct {
	tier string
	name string
}

type sighting struct {
	ann  events.EndpointAnnouncement
	last time.Time
}

// Watcher tracks the endpoints announcing themselves and reconciles the
// balancer pools with the static endpoints plus the live set. An endpoint
// not heard from for ttl is dropped; static endpoints are never dropped.
type Watcher struct {
	nc       *comms.Conn
	balancer *balancer.Balancer
	ttl      time.Duration

	// mu also serializes pool reconciliation, so the last applied set is
	// always the current one.
	mu     sync.Mutex
	seen   map[poolID]map[string]*sighting
	order  map[poolID][]string
	static map[poolID][]balancer.Endpoint

	now func() time.Time
}

// NewWatcher creates a Watcher feeding b. nc may be nil when announcements
// are fed through Observe directly.
func NewWatcher(nc *comms.Conn, b *balancer.Balancer, ttl time.Duration) *Watcher {
	return &Watcher{
		nc:       nc,
		balancer: b,
		ttl:      ttl,
		seen:     make(map[poolID]map[string]*sighting),
		order:    make(map[poolID][]string),
		static:   make(map[poolID][]balancer.Endpoint),
		now:      time.Now,
	}
}

// SetStatic registers the configured endpoints of every pool in tiers, keyed
// by tier then name. Reconciling a pool keeps them ahead of the discovered
// ones.
func (w *Watcher) SetStatic(tiers map[string]map[string][]balancer.Endpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for tier, byName := range tiers {
		for name, eps := range byName {
			w.static[poolID{tier: tier, name: name}] = slices.Clone(eps)
		}
	}
}

// Run subscribes to every endpoint subject and sweeps stale endpoints until
// ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	sub, err := w.nc.Subscribe(commsutil.SubjectEndpointsAll, func(msg *comms.Msg) {
		a, err := commsutil.DecodePayload[events.EndpointAnnouncement](msg.Data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - bad announcement on %s: %v", logPrefix, msg.Subject, err))
			return
		}
		w.Observe(a)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, commsutil.SubjectEndpointsAll, err)
	}
	defer sub.Unsubscribe()
	slog.Info(fmt.Sprintf("%s - Watching %s (ttl %s)", logPrefix, commsutil.SubjectEndpointsAll, w.ttl))

	sweepEvery := w.ttl / 3
	if sweepEvery <= 0 {
		sweepEvery = time.Second
	}
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Observe records one announcement and reconciles its pool.
func (w *Watcher) Observe(a *events.EndpointAnnouncement) {
	if a.Tier == "" || a.Name == "" || a.Endpoint.Host == "" {
		return
	}
	id := poolID{tier: a.Tier, name: a.Name}
	key := a.Key()

	w.mu.Lock()
	byKey := w.seen[id]
	if byKey == nil {
		byKey = make(map[string]*sighting)
		w.seen[id] = byKey
	}
	if a.Leaving {
		if _, ok := byKey[key]; ok {
			delete(byKey, key)
			w.order[id] = remove(w.order[id], key)
			slog.Info(fmt.Sprintf("%s - %s left %s", logPrefix, key, balancer.PoolName(id.tier, id.name)))
		}
	} else {
		if _, ok := byKey[key]; !ok {
			w.order[id] = append(w.order[id], key)
			slog.Info(fmt.Sprintf("%s - %s joined %s", logPrefix, key, balancer.PoolName(id.tier, id.name)))
		}
		byKey[key] = &sighting{ann: *a, last: w.now()}
	}
	w.applyLocked(id)
	w.mu.Unlock()
}

// Sweep drops endpoints not heard from within ttl and reconciles the pools
// that changed.
func (w *Watcher) Sweep() {
	cutoff := w.now().Add(-w.ttl)

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, byKey := range w.seen {
		dropped := false
		for key, s := range byKey {
			if s.last.Before(cutoff) {
				delete(byKey, key)
				w.order[id] = remove(w.order[id], key)
				dropped = true
				slog.Warn(fmt.Sprintf("%s - %s expired from %s", logPrefix, key, balancer.PoolName(id.tier, id.name)))
			}
		}
		if dropped {
			w.applyLocked(id)
		}
	}
}

// Pools returns the namespaced names of the pools the watcher has seen, sorted.
func (w *Watcher) Pools() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.seen))
	for id := range w.seen {
		out = append(out, balancer.PoolName(id.tier, id.name))
	}
	sort.Strings(out)
	return out
}

// liveLocked returns the announcements of id in first-seen order.
func (w *Watcher) liveLocked(id poolID) []events.EndpointAnnouncement {
	byKey := w.seen[id]
	out := make([]events.EndpointAnnouncement, 0, len(byKey))
	for _, key := range w.order[id] {
		if s, ok := byKey[key]; ok {
			out = append(out, s.ann)
		}
	}
	return out
}

// applyLocked reconciles the pool with its static endpoints followed by the
// live set, then feeds each live endpoint's load and availability through
// UpdateStatus.
func (w *Watcher) applyLocked(id poolID) {
	live := w.liveLocked(id)
	static := w.static[id]
	eps := make([]balancer.Endpoint, 0, len(static)+len(live))
	eps = append(eps, static...)
	for _, a := range live {
		eps = append(eps, a.Endpoint)
	}
	w.balancer.Update(id.tier, id.name, eps)
	for _, a := range live {
		curTask, available := a.CurTask, a.Available
		w.balancer.UpdateStatus(id.tier, id.name, a.Key(), &curTask, &available)
	}
}

func remove(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
