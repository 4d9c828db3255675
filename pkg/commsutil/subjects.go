package commsutil

import (
	"fmt"
	"strings"
)

// Endpoint announcement subjects.
const (
	SubjectEndpointPrefix = "rpcmesh.endpoints"
	SubjectEndpointsAll   = SubjectEndpointPrefix + ".>"
)

// BuildEndpointSubject builds the heartbeat subject of a named pool, e.g.
// "rpcmesh.endpoints.srv.orders". Dots in the name become underscores so the
// name stays one subject token.
func BuildEndpointSubject(tier, name string) string {
	safe := strings.ReplaceAll(name, ".", "_")
	return fmt.Sprintf("%s.%s.%s", SubjectEndpointPrefix, tier, safe)
}
