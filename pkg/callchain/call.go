package callchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// Call is the request-scoped state handed to a handler. It is created per
// invocation and never shared across requests.
type Call struct {
	ctx        context.Context
	reqContext *protocol.Context
	method     string
	tokenInfo  any
	debug      bool

	mu        sync.Mutex
	debugInfo []string
	status    *protocol.StatusPair
	fragments []*protocol.Node
}

// NewCall creates the state for one invocation of method.
func NewCall(ctx context.Context, method string, reqContext *protocol.Context) *Call {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Call{ctx: ctx, method: method, reqContext: reqContext}
	if reqContext != nil {
		c.debug = reqContext.Debug
	}
	return c
}

// Context returns the request context.Context.
func (c *Call) Context() context.Context { return c.ctx }

// Method returns the "service:class:method" string being served.
func (c *Call) Method() string { return c.method }

// RequestContext returns the envelope context of the inbound request, nil if absent.
func (c *Call) RequestContext() *protocol.Context { return c.reqContext }

// Token returns the caller's token, "" if absent.
func (c *Call) Token() string {
	if c.reqContext == nil {
		return ""
	}
	return c.reqContext.Token
}

// TokenInfo returns the identity resolved by the auth backend.
func (c *Call) TokenInfo() any { return c.tokenInfo }

// SetTokenInfo stores the resolved identity.
func (c *Call) SetTokenInfo(info any) { c.tokenInfo = info }

// Debug reports whether the caller asked for debug lines.
func (c *Call) Debug() bool { return c.debug }

// Debugf appends a debug line when the call runs in debug mode.
func (c *Call) Debugf(format string, args ...any) {
	if !c.debug {
		return
	}
	c.mu.Lock()
	c.debugInfo = append(c.debugInfo, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

// DebugInfo returns a copy of the collected debug lines.
func (c *Call) DebugInfo() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.debugInfo...)
}

// SetStatus overrides the status pair of the successful response.
func (c *Call) SetStatus(status int, info string) {
	c.mu.Lock()
	c.status = &protocol.StatusPair{Status: status, Info: info}
	c.mu.Unlock()
}

// Status returns the response status pair, OK unless overridden.
func (c *Call) Status() protocol.StatusPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != nil {
		return *c.status
	}
	return protocol.StatusPair{Status: protocol.StatusOK}
}

// RecordSubTrace stores the context.source returned by a nested outbound
// call. source may be nil.
func (c *Call) RecordSubTrace(source *protocol.Node) {
	c.mu.Lock()
	c.fragments = append(c.fragments, source)
	c.mu.Unlock()
}

// MergeSubTraces returns the recorded sub-traces below skipDepth levels.
func (c *Call) MergeSubTraces(skipDepth int) []*protocol.Node {
	c.mu.Lock()
	fragments := append([]*protocol.Node(nil), c.fragments...)
	c.mu.Unlock()
	return mergeFragments(fragments, skipDepth)
}

// OutboundContext returns the context to send on a nested call: the inbound
// sequence, debug flag, token and trace are forwarded.
func (c *Call) OutboundContext() *protocol.Context {
	if c.reqContext == nil {
		return &protocol.Context{}
	}
	out := *c.reqContext
	return &out
}
