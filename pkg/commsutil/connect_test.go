package commsutil

import (
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const connectTestPrefix = "commsutil:connect_test"

func startServer(t *testing.T) *commsserver.Server {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - NewServer: %v", connectTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server not ready", connectTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestConnect_Defaults(t *testing.T) {
	ns := startServer(t)
	nc, err := Connect(ns.ClientURL(), "node-a")
	if err != nil {
		t.Fatalf("%s - Connect: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	if nc.Opts.Name != "node-a" {
		t.Errorf("%s - Name = %q", connectTestPrefix, nc.Opts.Name)
	}
	if nc.Opts.MaxReconnect != -1 {
		t.Errorf("%s - MaxReconnect = %d, want unlimited", connectTestPrefix, nc.Opts.MaxReconnect)
	}
	if nc.ConnectedUrl() == "" || !nc.IsConnected() {
		t.Errorf("%s - not connected", connectTestPrefix)
	}
}

func TestConnect_ExtraOptionsWin(t *testing.T) {
	ns := startServer(t)
	nc, err := Connect(ns.ClientURL(), "node-a", comms.MaxReconnects(3), comms.Name("node-b"))
	if err != nil {
		t.Fatalf("%s - Connect: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	if nc.Opts.Name != "node-b" || nc.Opts.MaxReconnect != 3 {
		t.Errorf("%s - Name = %q, MaxReconnect = %d", connectTestPrefix, nc.Opts.Name, nc.Opts.MaxReconnect)
	}
}

func TestConnect_NoServer(t *testing.T) {
	nc, err := Connect("nats://127.0.0.1:1", "node-a", comms.Timeout(time.Second))
	if err == nil {
		nc.Close()
		t.Fatalf("%s - expected error", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - connection returned with error", connectTestPrefix)
	}
	if !strings.Contains(err.Error(), "failed to connect to COMMS") {
		t.Errorf("%s - err = %v", connectTestPrefix, err)
	}
}
