package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpcmesh/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsAnnouncer publishes announcements on the endpoint subject of their pool.
type CommsAnnouncer struct {
	nc *comms.Conn
}

// NewCommsAnnouncer creates a new CommsAnnouncer.
func NewCommsAnnouncer(nc *comms.Conn) *CommsAnnouncer {
	return &CommsAnnouncer{nc: nc}
}

// Announce publishes a to rpcmesh.endpoints.<tier>.<name>.
func (p *CommsAnnouncer) Announce(_ context.Context, a *EndpointAnnouncement) error {
	data, err := commsutil.EncodePayload(a)
	if err != nil {
		return fmt.Errorf("%s - failed to encode announcement: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildEndpointSubject(a.Tier, a.Name)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Announced %s on %s", commsPublisherLogPrefix, a.Key(), subject))
	return nil
}
