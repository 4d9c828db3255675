package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const publisherLogPrefix = "events:publisher"

// Announcer publishes endpoint announcements.
type Announcer interface {
	Announce(ctx context.Context, a *EndpointAnnouncement) error
}

// CallbackAnnouncer is an Announcer that calls a callback function (for testing).
type CallbackAnnouncer struct {
	callback func(ctx context.Context, a *EndpointAnnouncement) error
}

// NewCallbackAnnouncer creates a new CallbackAnnouncer.
func NewCallbackAnnouncer(cb func(ctx context.Context, a *EndpointAnnouncement) error) *CallbackAnnouncer {
	return &CallbackAnnouncer{callback: cb}
}

// Announce calls the callback.
func (p *CallbackAnnouncer) Announce(ctx context.Context, a *EndpointAnnouncement) error {
	return p.callback(ctx, a)
}

// RunHeartbeat announces snapshot() immediately and then every interval until
// ctx is done, finishing with a Leaving announcement. Publish failures are
// logged and retried on the next tick.
func RunHeartbeat(ctx context.Context, ann Announcer, interval time.Duration, snapshot func() *EndpointAnnouncement) error {
	send := func(sendCtx context.Context, leaving bool) {
		a := snapshot()
		a.Leaving = leaving
		a.Stamp(time.Now())
		if err := ann.Announce(sendCtx, a); err != nil {
			slog.Warn(fmt.Sprintf("%s - heartbeat for %s.%s failed: %v", publisherLogPrefix, a.Tier, a.Name, err))
		}
	}

	send(ctx, false)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			send(ctx, false)
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			send(leaveCtx, true)
			cancel()
			return nil
		}
	}
}
