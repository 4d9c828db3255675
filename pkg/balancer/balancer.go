package balancer

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/morezero/rpcmesh/pkg/semver"
)

// Tiers namespace pool names.
const (
	TierApi = "api"
	TierSrv = "srv"
)

// PoolName returns the namespaced pool name, e.g. "srv.orders".
func PoolName(tier, name string) string {
	return tier + "." + name
}

// Balancer holds one Pool per namespaced target name. Pools are created on
// first reference.
type Balancer struct {
	pools *xsync.MapOf[string, *Pool]
}

// New creates an empty Balancer.
func New() *Balancer {
	return &Balancer{pools: xsync.NewMapOf[string, *Pool]()}
}

// Pool returns the pool of tier/name, creating it if needed.
func (b *Balancer) Pool(tier, name string) *Pool {
	full := PoolName(tier, name)
	p, _ := b.pools.LoadOrCompute(full, func() *Pool { return NewPool(full) })
	return p
}

// Update reconciles the pool of tier/name with endpoints.
func (b *Balancer) Update(tier, name string, endpoints []Endpoint) {
	b.Pool(tier, name).Update(endpoints)
}

// Select picks the next endpoint of tier/name.
func (b *Balancer) Select(tier, name string) (Endpoint, error) {
	return b.Pool(tier, name).Select()
}

// SelectMatching picks the next endpoint of tier/name whose version matches r.
func (b *Balancer) SelectMatching(tier, name string, r *semver.Range) (Endpoint, error) {
	return b.Pool(tier, name).SelectMatching(r)
}

// UpdateStatus records load and availability of one endpoint of tier/name.
func (b *Balancer) UpdateStatus(tier, name, key string, curTask *int, available *bool) {
	b.Pool(tier, name).UpdateStatus(key, curTask, available)
}

// GetAll lists the endpoint addresses of tier/name.
func (b *Balancer) GetAll(tier, name string) []HostPort {
	return b.Pool(tier, name).GetAll()
}

func (b *Balancer) UpdateApi(name string, endpoints []Endpoint) { b.Update(TierApi, name, endpoints) }
func (b *Balancer) UpdateSrv(name string, endpoints []Endpoint) { b.Update(TierSrv, name, endpoints) }
func (b *Balancer) SelectApi(name string) (Endpoint, error)     { return b.Select(TierApi, name) }
func (b *Balancer) SelectSrv(name string) (Endpoint, error)     { return b.Select(TierSrv, name) }
func (b *Balancer) GetAllApi(name string) []HostPort            { return b.GetAll(TierApi, name) }
func (b *Balancer) GetAllSrv(name string) []HostPort            { return b.GetAll(TierSrv, name) }

// Names returns the namespaced names of all pools, sorted.
func (b *Balancer) Names() []string {
	var names []string
	b.pools.Range(func(name string, _ *Pool) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
