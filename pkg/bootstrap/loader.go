package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/semver"
)

const logPrefix = "bootstrap:loader"

// LoadEndpointsFile loads the first readable endpoints file among paths, then
// RPC_ENDPOINTS_FILE, then config/endpoints.json and endpoints.json. No file
// yields an empty table. A file that exists but does not parse is an error.
func LoadEndpointsFile(paths ...string) (*EndpointsFile, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("RPC_ENDPOINTS_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/endpoints.json", "endpoints.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Warn(fmt.Sprintf("%s - Cannot read endpoints file %s: %v", logPrefix, p, err))
			}
			continue
		}
		f, err := ParseEndpointsFile(data)
		if err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, p, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded %d endpoints from %s", logPrefix, f.Len(), p))
		return f, nil
	}

	slog.Info(fmt.Sprintf("%s - No endpoints file, starting with empty pools", logPrefix))
	return &EndpointsFile{}, nil
}

// ParseEndpointsFile decodes and validates an endpoints file.
func ParseEndpointsFile(data []byte) (*EndpointsFile, error) {
	var f EndpointsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse endpoints file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every endpoint has a host, a valid port and, when given,
// a semantic version.
func (f *EndpointsFile) Validate() error {
	for tier, byName := range f.Tiers() {
		for name, eps := range byName {
			for i, ep := range eps {
				where := fmt.Sprintf("%s[%d]", balancer.PoolName(tier, name), i)
				if ep.Host == "" {
					return fmt.Errorf("%s: host is required", where)
				}
				if ep.Port <= 0 || ep.Port > 65535 {
					return fmt.Errorf("%s: port %d out of range", where, ep.Port)
				}
				if ep.Version != "" {
					if err := semver.Validate(ep.Version); err != nil {
						return fmt.Errorf("%s: %w", where, err)
					}
				}
			}
		}
	}
	return nil
}

// Apply seeds b with every pool in the file.
func (f *EndpointsFile) Apply(b *balancer.Balancer) {
	for tier, byName := range f.Tiers() {
		for name, eps := range byName {
			b.Update(tier, name, eps)
		}
	}
}
