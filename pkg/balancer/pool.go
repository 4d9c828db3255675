package balancer

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/semver"
)

const poolLogPrefix = "balancer:pool"

// Pool is the set of endpoints behind one target name, kept in insertion
// order. Selection takes the first entry and moves it to the tail.
type Pool struct {
	name string

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

// NewPool creates an empty pool.
func NewPool(name string) *Pool {
	return &Pool{
		name:  name,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Name returns the pool name, e.g. "srv.orders".
func (p *Pool) Name() string {
	return p.name
}

// Update reconciles the pool with endpoints: missing keys are removed, new
// keys are appended in list order, and keys present in both keep their
// status and position.
func (p *Pool) Update(endpoints []Endpoint) {
	incoming := make(map[string]Endpoint, len(endpoints))
	var keys []string
	for _, ep := range endpoints {
		k := ep.Key()
		if _, dup := incoming[k]; dup {
			continue
		}
		incoming[k] = ep
		keys = append(keys, k)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removed, added := 0, 0
	for k, el := range p.index {
		if _, keep := incoming[k]; !keep {
			p.order.Remove(el)
			delete(p.index, k)
			removed++
		}
	}
	for _, k := range keys {
		if _, exists := p.index[k]; exists {
			continue
		}
		ep := incoming[k].WithDefaults()
		ep.CurTask = 0
		ep.Available = true
		p.index[k] = p.order.PushBack(&ep)
		added++
	}
	if removed > 0 || added > 0 {
		slog.Debug(fmt.Sprintf("%s - %s: +%d -%d endpoints (%d total)", poolLogPrefix, p.name, added, removed, p.order.Len()))
	}
}

// Select returns the head endpoint and rotates it to the tail. Status is
// not consulted.
func (p *Pool) Select() (Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	front := p.order.Front()
	if front == nil {
		return Endpoint{}, protocol.NewNoEndpointError(p.name)
	}
	p.order.MoveToBack(front)
	return *front.Value.(*Endpoint), nil
}

// SelectMatching is Select restricted to endpoints whose version satisfies r.
// The first matching endpoint in order is rotated to the tail.
func (p *Pool) SelectMatching(r *semver.Range) (Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for el := p.order.Front(); el != nil; el = el.Next() {
		ep := el.Value.(*Endpoint)
		if r.Matches(ep.Version) {
			p.order.MoveToBack(el)
			return *ep, nil
		}
	}
	return Endpoint{}, protocol.NewNoEndpointError(fmt.Sprintf("%s@%s", p.name, r))
}

// UpdateStatus records load and availability of one endpoint. Nil arguments
// leave the field unchanged; unknown keys are ignored.
func (p *Pool) UpdateStatus(key string, curTask *int, available *bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[key]
	if !ok {
		return
	}
	ep := el.Value.(*Endpoint)
	if curTask != nil {
		ep.CurTask = *curTask
	}
	if available != nil {
		ep.Available = *available
	}
}

// GetAll returns the endpoint addresses in current order.
func (p *Pool) GetAll() []HostPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]HostPort, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		ep := el.Value.(*Endpoint)
		out = append(out, HostPort{Host: ep.Host, Port: ep.Port})
	}
	return out
}

// Endpoints returns copies of the endpoints in current order.
func (p *Pool) Endpoints() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Endpoint))
	}
	return out
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}
