// Package bootstrap loads the static endpoint table a server starts with.
package bootstrap

import (
	"sort"

	"github.com/morezero/rpcmesh/pkg/balancer"
)

// EndpointsFile is the root of an endpoints file:
//
//	{"api": {"orders": [{"host": "10.0.0.1", "port": 8900}]}, "srv": {...}}
type EndpointsFile struct {
	Api map[string][]balancer.Endpoint `json:"api,omitempty"`
	Srv map[string][]balancer.Endpoint `json:"srv,omitempty"`
}

// Tiers returns tier → name → endpoints.
func (f *EndpointsFile) Tiers() map[string]map[string][]balancer.Endpoint {
	return map[string]map[string][]balancer.Endpoint{
		balancer.TierApi: f.Api,
		balancer.TierSrv: f.Srv,
	}
}

// Names returns the namespaced pool names in the file, sorted.
func (f *EndpointsFile) Names() []string {
	var out []string
	for tier, byName := range f.Tiers() {
		for name := range byName {
			out = append(out, balancer.PoolName(tier, name))
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of endpoints across all pools.
func (f *EndpointsFile) Len() int {
	n := 0
	for _, byName := range f.Tiers() {
		for _, eps := range byName {
			n += len(eps)
		}
	}
	return n
}
