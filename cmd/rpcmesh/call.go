package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/bootstrap"
	"github.com/morezero/rpcmesh/pkg/callchain"
	"github.com/morezero/rpcmesh/pkg/client"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

type callOptions struct {
	url       string
	endpoints string
	tier      string
	version   string
	token     string
	debug     bool
	sequence  int64
	timeout   time.Duration
	headers   bool
}

func newCallCmd() *cobra.Command {
	var opts callOptions
	cmd := &cobra.Command{
		Use:   "call <service:class:method> [params-json]",
		Short: "Call a method and print the response envelope",
		Long: `Call a method and print the response envelope.

The target node is --url, or an endpoint of the service chosen round-robin
from the endpoints file (--endpoints, RPC_ENDPOINTS_FILE, config/endpoints.json).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if len(args) > 1 {
				params = json.RawMessage(args[1])
				if !json.Valid(params) {
					return fmt.Errorf("params is not valid JSON")
				}
			}
			res, err := runCall(cmd.Context(), opts, args[0], params)
			if err != nil {
				return err
			}
			return printResult(cmd, res, opts.headers)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "service URL of the target node, e.g. http://127.0.0.1:8900/")
	f.StringVar(&opts.endpoints, "endpoints", "", "endpoints file used when --url is not set")
	f.StringVar(&opts.tier, "tier", balancer.TierSrv, "endpoint tier (api or srv)")
	f.StringVar(&opts.version, "version", "", "semver range the selected endpoint must satisfy")
	f.StringVar(&opts.token, "token", "", "context.token")
	f.BoolVar(&opts.debug, "debug", false, "set context.debug to collect debug lines")
	f.Int64Var(&opts.sequence, "sequence", 1, "context.sequence")
	f.DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "request timeout")
	f.BoolVar(&opts.headers, "headers", false, "print the load headers of the reply")
	return cmd
}

func runCall(ctx context.Context, opts callOptions, method string, params json.RawMessage) (*client.Result, error) {
	reqContext := &protocol.Context{
		Sequence: json.RawMessage(strconv.FormatInt(opts.sequence, 10)),
		Debug:    opts.debug,
		Token:    opts.token,
	}
	call := callchain.NewCall(ctx, method, reqContext)
	var body any
	if len(params) > 0 {
		body = params
	}

	b := balancer.New()
	caller := client.NewCaller(b, client.Options{Timeout: opts.timeout})
	if opts.url != "" {
		ep, err := endpointFromURL(opts.url)
		if err != nil {
			return nil, err
		}
		return caller.Call(ctx, ep, method, call, body), nil
	}

	endpoints, err := bootstrap.LoadEndpointsFile(opts.endpoints)
	if err != nil {
		return nil, err
	}
	endpoints.Apply(b)
	if opts.version != "" {
		return caller.CallMatching(ctx, opts.tier, opts.version, method, call, body), nil
	}
	if opts.tier == balancer.TierApi {
		return caller.CallApi(ctx, method, call, body), nil
	}
	return caller.CallSrv(ctx, method, call, body), nil
}

// endpointFromURL maps http://host:port/path to an endpoint serving at path.
func endpointFromURL(raw string) (balancer.Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return balancer.Endpoint{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" {
		return balancer.Endpoint{}, fmt.Errorf("url %q: only http is supported", raw)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, portStr = u.Host, "80"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return balancer.Endpoint{}, fmt.Errorf("url %q: bad port: %w", raw, err)
	}
	ep := balancer.NewEndpoint(host, port)
	if u.Path != "" {
		ep.ServicePath = u.Path
	}
	return ep, nil
}

func printResult(cmd *cobra.Command, res *client.Result, headers bool) error {
	out := cmd.OutOrStdout()
	if headers {
		for _, h := range []string{
			protocol.HeaderServiceAvailable,
			protocol.HeaderServiceCPU,
			protocol.HeaderServiceTaskNum,
			protocol.HeaderServiceMaxQueue,
		} {
			fmt.Fprintf(out, "%s: %s\n", h, res.Headers.Get(h))
		}
	}
	if res.Err != nil {
		if res.Text != "" {
			fmt.Fprintln(out, res.Text)
		}
		return res.Err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(res.Text), "", "  "); err != nil {
		fmt.Fprintln(out, res.Text)
	} else {
		fmt.Fprintln(out, pretty.String())
	}
	if !res.OK() {
		return res.Error()
	}
	return nil
}
