// Package events defines endpoint announcements and the publishers that send
// them.
package events

import (
	"time"

	"github.com/morezero/rpcmesh/pkg/balancer"
)

// EndpointAnnouncement is the heartbeat a server publishes for itself.
// Leaving marks the last announcement before shutdown.
type EndpointAnnouncement struct {
	Tier      string            `json:"tier"`
	Name      string            `json:"name"`
	Endpoint  balancer.Endpoint `json:"endpoint"`
	CurTask   int               `json:"curTask"`
	Available bool              `json:"available"`
	Leaving   bool              `json:"leaving,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Key returns the pool key of the announced endpoint.
func (a *EndpointAnnouncement) Key() string {
	return a.Endpoint.Key()
}

// Stamp sets Timestamp to t in RFC 3339.
func (a *EndpointAnnouncement) Stamp(t time.Time) {
	a.Timestamp = t.UTC().Format(time.RFC3339Nano)
}
