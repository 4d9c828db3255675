package demo

import (
	"context"
	"net"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/rpcmesh/internal/server"
	"github.com/morezero/rpcmesh/pkg/auth"
	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/client"
	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/registry"
)

// startComms runs an embedded COMMS server on a random port.
func startComms(t *testing.T) string {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second), "COMMS server failed to start")
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

type meshNode struct {
	server *server.Server
	done   chan error
	cancel context.CancelFunc
}

// serveMeshNode starts a fully wired node: heartbeats and the discovery
// watcher run over COMMS.
func serveMeshNode(t *testing.T, commsURL, name string) *meshNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := nodeConfig(name, "127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	cfg.ShutdownGrace = time.Second
	cfg.ShutdownPoll = 10 * time.Millisecond
	cfg.RolloverInterval = time.Minute
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.EndpointTTL = 2 * time.Second

	nc, err := comms.Connect(commsURL, comms.Name(name), comms.Timeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	b := balancer.New()
	reg := registry.NewRegistry()
	require.NoError(t, Register(reg, client.NewCaller(b, client.Options{Timeout: 2 * time.Second})))
	s, err := server.New(cfg, server.Options{
		Registry: reg,
		Auth:     auth.NewStatic(map[string]string{"tok": "alice"}),
		Balancer: b,
		Conn:     nc,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	n := &meshNode{server: s, done: make(chan error, 1), cancel: cancel}
	go func() { n.done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-n.done
	})
	return n
}

func (n *meshNode) stop(t *testing.T) {
	t.Helper()
	n.cancel()
	select {
	case err := <-n.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not shut down")
	}
	n.done <- nil
}

func TestMesh_DiscoveryAndRelay(t *testing.T) {
	commsURL := startComms(t)
	nodeB := serveMeshNode(t, commsURL, "b")
	nodeA := serveMeshNode(t, commsURL, "a")

	// a learns b from its heartbeats.
	require.Eventually(t, func() bool {
		return len(nodeA.server.Balancer().GetAllSrv("b")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	caller := client.NewCaller(nodeA.server.Balancer(), client.Options{Timeout: 2 * time.Second})
	var aEndpoint []balancer.Endpoint
	require.Eventually(t, func() bool {
		aEndpoint = nodeB.server.Balancer().Pool(balancer.TierSrv, "a").Endpoints()
		return len(aEndpoint) == 1
	}, 5*time.Second, 20*time.Millisecond)

	res := caller.Call(context.Background(), aEndpoint[0], "a:Relay:forward", nil,
		map[string]any{"method": "b:Calc:add", "params": map[string]int{"a": 20, "b": 22}})
	require.NoError(t, res.Error())
	assert.JSONEq(t, `42`, string(res.Return))

	// Stopping b sends a leaving announcement and a drops it.
	nodeB.stop(t)
	require.Eventually(t, func() bool {
		return len(nodeA.server.Balancer().GetAllSrv("b")) == 0
	}, 5*time.Second, 20*time.Millisecond)

	res = caller.Call(context.Background(), aEndpoint[0], "a:Relay:forward", nil,
		map[string]any{"method": "b:Calc:add", "params": map[string]int{"a": 1, "b": 1}})
	require.NoError(t, res.Err)
	assert.Equal(t, protocol.StatusError, res.Status)
	assert.Contains(t, res.StatusInfo, "no endpoint")
}
