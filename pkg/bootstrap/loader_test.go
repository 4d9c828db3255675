package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/morezero/rpcmesh/pkg/balancer"
)

const loaderTestPrefix = "bootstrap:loader_test"

const sampleFile = `{
  "api": {"orders": [{"host": "10.0.0.1", "port": 8900}, {"host": "10.0.0.2", "port": 8900, "version": "1.2.0"}]},
  "srv": {"math": [{"host": "10.0.1.1", "port": 9000, "servicePath": "/rpc"}]}
}`

func TestParseEndpointsFile(t *testing.T) {
	f, err := ParseEndpointsFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", loaderTestPrefix, err)
	}
	if f.Len() != 3 {
		t.Errorf("%s - Len = %d, want 3", loaderTestPrefix, f.Len())
	}
	names := f.Names()
	if len(names) != 2 || names[0] != "api.orders" || names[1] != "srv.math" {
		t.Errorf("%s - Names = %v", loaderTestPrefix, names)
	}
}

func TestParseEndpointsFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `{`, "failed to parse"},
		{"no host", `{"api":{"a":[{"port":1}]}}`, "host is required"},
		{"bad port", `{"srv":{"a":[{"host":"h","port":70000}]}}`, "out of range"},
		{"bad version", `{"srv":{"a":[{"host":"h","port":1,"version":"x.y"}]}}`, "invalid version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEndpointsFile([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("%s - err = %v, want containing %q", loaderTestPrefix, err, tt.want)
			}
		})
	}
}

func TestLoadEndpointsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.json")
	if err := os.WriteFile(path, []byte(sampleFile), 0644); err != nil {
		t.Fatalf("%s - write: %v", loaderTestPrefix, err)
	}

	f, err := LoadEndpointsFile(filepath.Join(dir, "missing.json"), path)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", loaderTestPrefix, err)
	}
	if f.Len() != 3 {
		t.Errorf("%s - Len = %d, want 3", loaderTestPrefix, f.Len())
	}
}

func TestLoadEndpointsFile_NoneFound(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS_FILE", "")
	f, err := LoadEndpointsFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", loaderTestPrefix, err)
	}
	if f.Len() != 0 {
		t.Errorf("%s - expected empty table, got %d", loaderTestPrefix, f.Len())
	}
}

func TestApply(t *testing.T) {
	f, err := ParseEndpointsFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", loaderTestPrefix, err)
	}
	b := balancer.New()
	f.Apply(b)

	ep, err := b.SelectSrv("math")
	if err != nil {
		t.Fatalf("%s - SelectSrv: %v", loaderTestPrefix, err)
	}
	if ep.ServicePath != "/rpc" || ep.InfoPath != "/info" || !ep.Available {
		t.Errorf("%s - endpoint = %+v", loaderTestPrefix, ep)
	}
	if got := b.GetAllApi("orders"); len(got) != 2 {
		t.Errorf("%s - api.orders has %d endpoints, want 2", loaderTestPrefix, len(got))
	}
}
