package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/commsutil"
	"github.com/morezero/rpcmesh/pkg/events"
)

type announceOptions struct {
	commsURL string
	tier     string
	name     string
	host     string
	port     int
	version  string
	leave    bool
	interval time.Duration
}

func newAnnounceCmd() *cobra.Command {
	var opts announceOptions
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Publish an endpoint announcement on COMMS",
		Long: `Publish an endpoint announcement on COMMS for a node that does not
heartbeat itself. With --interval it keeps announcing until interrupted and
sends a leaving announcement on exit; --leave removes the endpoint once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnnounce(cmd.Context(), cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.commsURL, "comms-url", os.Getenv("COMMS_URL"), "COMMS server URL")
	f.StringVar(&opts.tier, "tier", balancer.TierSrv, "endpoint tier (api or srv)")
	f.StringVar(&opts.name, "name", "", "service name")
	f.StringVar(&opts.host, "host", "127.0.0.1", "advertised host")
	f.IntVar(&opts.port, "port", 8900, "advertised port")
	f.StringVar(&opts.version, "version", "", "service version")
	f.BoolVar(&opts.leave, "leave", false, "announce that the endpoint is leaving")
	f.DurationVar(&opts.interval, "interval", 0, "repeat every interval until interrupted")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (o announceOptions) announcement() *events.EndpointAnnouncement {
	ep := balancer.NewEndpoint(o.host, o.port)
	ep.Version = o.version
	return &events.EndpointAnnouncement{
		Tier:      o.tier,
		Name:      o.name,
		Endpoint:  ep.WithDefaults(),
		Available: !o.leave,
		Leaving:   o.leave,
	}
}

func runAnnounce(ctx context.Context, cmd *cobra.Command, opts announceOptions) error {
	if opts.commsURL == "" {
		return fmt.Errorf("--comms-url or COMMS_URL is required")
	}
	if opts.tier != balancer.TierApi && opts.tier != balancer.TierSrv {
		return fmt.Errorf("tier must be %q or %q, got %q", balancer.TierApi, balancer.TierSrv, opts.tier)
	}
	nc, err := commsutil.Connect(opts.commsURL, "rpcmesh-announce")
	if err != nil {
		return fmt.Errorf("connect COMMS: %w", err)
	}
	defer nc.Close()
	ann := events.NewCommsAnnouncer(nc)

	if opts.interval <= 0 || opts.leave {
		a := opts.announcement()
		a.Stamp(time.Now())
		if err := ann.Announce(ctx, a); err != nil {
			return err
		}
		if err := nc.Flush(); err != nil {
			return fmt.Errorf("flush COMMS: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "announced %s/%s at %s\n", a.Tier, a.Name, a.Key())
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(cmd.OutOrStdout(), "announcing %s/%s every %s\n", opts.tier, opts.name, opts.interval)
	if err := events.RunHeartbeat(ctx, ann, opts.interval, opts.announcement); err != nil {
		return err
	}
	return nc.Flush()
}
