package balancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/semver"
)

func eps(ports ...int) []Endpoint {
	out := make([]Endpoint, 0, len(ports))
	for _, p := range ports {
		out = append(out, NewEndpoint("10.0.0.1", p))
	}
	return out
}

func TestPool_RoundRobinFairness(t *testing.T) {
	p := NewPool("srv.test")
	p.Update(eps(1, 2, 3))

	for round := 0; round < 2; round++ {
		for _, want := range []int{1, 2, 3} {
			ep, err := p.Select()
			require.NoError(t, err)
			assert.Equal(t, want, ep.Port)
		}
	}
}

func TestPool_EmptySelect(t *testing.T) {
	_, err := NewPool("api.none").Select()
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, protocol.CodeNoEndpoint))
	assert.Contains(t, err.Error(), "no endpoint for 'api.none'")
}

func TestPool_UpdateReconciles(t *testing.T) {
	p := NewPool("srv.test")
	p.Update(eps(1, 2, 3))

	// Rotate 1 to the tail and give 2 some load.
	_, _ = p.Select()
	load := 7
	p.UpdateStatus(Key("10.0.0.1", 2), &load, nil)

	p.Update(eps(2, 4, 1))

	got := p.GetAll()
	require.Len(t, got, 3)
	// 3 removed; 2 and 1 keep their order; 4 appended.
	assert.Equal(t, []int{2, 1, 4}, []int{got[0].Port, got[1].Port, got[2].Port})

	for _, ep := range p.Endpoints() {
		if ep.Port == 2 {
			assert.Equal(t, 7, ep.CurTask)
		}
		assert.True(t, ep.Available)
	}
}

func TestPool_UpdateIgnoresDuplicates(t *testing.T) {
	p := NewPool("srv.test")
	p.Update(eps(1, 1, 2))
	assert.Equal(t, 2, p.Len())
}

func TestPool_UpdateStatusPartial(t *testing.T) {
	p := NewPool("srv.test")
	p.Update(eps(1))
	off := false
	p.UpdateStatus(Key("10.0.0.1", 1), nil, &off)
	p.UpdateStatus("missing:1", nil, &off)

	ep, err := p.Select()
	require.NoError(t, err)
	assert.False(t, ep.Available)
	assert.Equal(t, 0, ep.CurTask)
}

func TestPool_SelectMatching(t *testing.T) {
	p := NewPool("srv.test")
	list := eps(1, 2, 3)
	list[0].Version = "1.4.0"
	list[1].Version = "2.0.0"
	list[2].Version = "2.1.0"
	p.Update(list)

	r, err := semver.ParseRange("2")
	require.NoError(t, err)
	first, err := p.SelectMatching(r)
	require.NoError(t, err)
	second, err := p.SelectMatching(r)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Port)
	assert.Equal(t, 3, second.Port)

	none, _ := semver.ParseRange("^9.0.0")
	_, err = p.SelectMatching(none)
	assert.True(t, protocol.IsCode(err, protocol.CodeNoEndpoint))
}

func TestPool_ConcurrentSelect(t *testing.T) {
	p := NewPool("srv.test")
	p.Update(eps(1, 2, 3, 4))

	var mu sync.Mutex
	counts := map[int]int{}
	var wg sync.WaitGroup
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ep, err := p.Select()
			if err != nil {
				return
			}
			mu.Lock()
			counts[ep.Port]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	for _, port := range []int{1, 2, 3, 4} {
		assert.Equal(t, 100, counts[port])
	}
}

func TestEndpoint_Defaults(t *testing.T) {
	ep := NewEndpoint("h", 80)
	assert.Equal(t, "/", ep.ServicePath)
	assert.Equal(t, "/explain", ep.ExplainPath)
	assert.Equal(t, "/info", ep.InfoPath)
	assert.Equal(t, 1, ep.CPU)
	assert.Equal(t, 1000, ep.MaxQueue)
	assert.Equal(t, "http://h:80/", ep.ServiceURL())
	assert.Equal(t, "h:80", ep.Key())
}
