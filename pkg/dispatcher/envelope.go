package dispatcher

import (
	"context"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// Authenticator resolves a caller token to an identity. A nil identity or an
// error fails authentication.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (any, error)
}

// Interceptor observes or overrides calls. Each stage returns whether
// processing continues; when it does not, the supplied response is returned
// as-is (nil means an empty reply).
type Interceptor interface {
	// StartCall runs after the hop is appended. It may modify req in place.
	// When it stops the call, EndCall still runs on the interceptors before it.
	StartCall(ctx context.Context, req *protocol.Request) (bool, *protocol.Response)
	// EndCall runs on the built response. A non-nil response with a true
	// continuation replaces resp for the following interceptors.
	EndCall(ctx context.Context, req *protocol.Request, resp *protocol.Response) (bool, *protocol.Response)
}

// CallContexter is implemented by interceptors that derive the context
// handed to the handler, such as one carrying a trace span. CallContext runs
// after the interceptor's StartCall continued.
type CallContexter interface {
	CallContext(ctx context.Context, req *protocol.Request) context.Context
}

// InterceptorFuncs adapts optional functions to an Interceptor.
type InterceptorFuncs struct {
	OnStart func(ctx context.Context, req *protocol.Request) (bool, *protocol.Response)
	OnEnd   func(ctx context.Context, req *protocol.Request, resp *protocol.Response) (bool, *protocol.Response)
}

func (f InterceptorFuncs) StartCall(ctx context.Context, req *protocol.Request) (bool, *protocol.Response) {
	if f.OnStart == nil {
		return true, nil
	}
	return f.OnStart(ctx, req)
}

func (f InterceptorFuncs) EndCall(ctx context.Context, req *protocol.Request, resp *protocol.Response) (bool, *protocol.Response) {
	if f.OnEnd == nil {
		return true, nil
	}
	return f.OnEnd(ctx, req, resp)
}
