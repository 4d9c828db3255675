package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/callchain"
	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/semver"
)

const logPrefix = "client:caller"

// DefaultTimeout bounds one outbound call.
const DefaultTimeout = 10 * time.Second

// Options configures a Caller.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	// FeedStatus copies the load headers of each reply into the balancer.
	FeedStatus bool
}

// Caller sends calls to endpoints chosen by a Balancer.
type Caller struct {
	balancer   *balancer.Balancer
	hc         *http.Client
	feedStatus bool
}

// NewCaller creates a Caller over b.
func NewCaller(b *balancer.Balancer, opts Options) *Caller {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Caller{balancer: b, hc: hc, feedStatus: opts.FeedStatus}
}

type outboundRequest struct {
	Method  string            `json:"method"`
	Context *protocol.Context `json:"context"`
	Params  any               `json:"params"`
}

// Body renders the request text of a call. The context of call is forwarded
// when call is non-nil; context and params are always present.
func Body(method string, call *callchain.Call, params any) ([]byte, error) {
	out := outboundRequest{Method: method, Context: &protocol.Context{}, Params: params}
	if call != nil {
		out.Context = call.OutboundContext()
	}
	if out.Params == nil {
		out.Params = struct{}{}
	}
	return json.Marshal(out)
}

// Call posts method to ep. When call is non-nil the returned trace is
// recorded into it for merging into the caller's own response.
func (c *Caller) Call(ctx context.Context, ep balancer.Endpoint, method string, call *callchain.Call, params any) *Result {
	body, err := Body(method, call, params)
	if err != nil {
		return &Result{Err: fmt.Errorf("%s - failed to encode params for %s: %w", logPrefix, method, err)}
	}
	headers, text, err := PostJSON(ctx, c.hc, ep.ServiceURL(), body)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s to %s failed: %v", logPrefix, method, ep.Key(), err))
		if call != nil {
			call.RecordSubTrace(nil)
		}
		return &Result{Headers: headers, Err: err}
	}
	res := newResult(headers, text)
	if call != nil {
		call.RecordSubTrace(res.Context.Source)
	}
	return res
}

// CallApi calls "service:class:method" on an endpoint of the api tier.
func (c *Caller) CallApi(ctx context.Context, method string, call *callchain.Call, params any) *Result {
	return c.callTier(ctx, balancer.TierApi, method, call, params, nil)
}

// CallSrv calls "service:class:method" on an endpoint of the srv tier.
func (c *Caller) CallSrv(ctx context.Context, method string, call *callchain.Call, params any) *Result {
	return c.callTier(ctx, balancer.TierSrv, method, call, params, nil)
}

// CallMatching calls method on an endpoint of tier whose version satisfies
// versionRange.
func (c *Caller) CallMatching(ctx context.Context, tier, versionRange, method string, call *callchain.Call, params any) *Result {
	r, err := semver.ParseRange(versionRange)
	if err != nil {
		return &Result{Err: err}
	}
	return c.callTier(ctx, tier, method, call, params, r)
}

func (c *Caller) callTier(ctx context.Context, tier, method string, call *callchain.Call, params any, r *semver.Range) *Result {
	parts := strings.Split(method, ":")
	if len(parts) != 3 {
		return &Result{Err: protocol.NewFormatError(fmt.Sprintf("method '%s' must be service:class:method", method))}
	}
	service := parts[0]

	var ep balancer.Endpoint
	var err error
	if r != nil {
		ep, err = c.balancer.SelectMatching(tier, service, r)
	} else {
		ep, err = c.balancer.Select(tier, service)
	}
	if err != nil {
		return &Result{Err: err}
	}

	res := c.Call(ctx, ep, method, call, params)
	if c.feedStatus && res.Headers != nil {
		c.feedLoad(tier, service, ep, res.Headers)
	}
	return res
}

func (c *Caller) feedLoad(tier, name string, ep balancer.Endpoint, h http.Header) {
	var curTask *int
	var available *bool
	if v := h.Get(protocol.HeaderServiceTaskNum); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			curTask = &n
		}
	}
	if v := h.Get(protocol.HeaderServiceAvailable); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			available = &b
		}
	}
	if curTask != nil || available != nil {
		c.balancer.UpdateStatus(tier, name, ep.Key(), curTask, available)
	}
}
