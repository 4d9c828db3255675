// Package dispatcher turns inbound call envelopes into handler invocations.
//
// A request moves through Parse, ChainAppend, InterceptPre, Resolve,
// Authenticate, BindParams, Invoke, BuildResponse and InterceptPost. Any
// failure in Resolve through Invoke becomes an error envelope.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/morezero/rpcmesh/pkg/callchain"
	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/registry"
	"github.com/morezero/rpcmesh/pkg/schema"
)

const logPrefix = "dispatcher:dispatch"

// Config identifies this node in call chains.
type Config struct {
	// Address is the advertised host:port.
	Address string
	// Service is used as the hop type when a request has no method.
	Service string
	Version string
	// AuthFailure is the status pair for rejected tokens.
	AuthFailure protocol.StatusPair
}

// Dispatcher routes call envelopes to registered handlers.
type Dispatcher struct {
	cfg          Config
	registry     *registry.Registry
	auth         Authenticator
	interceptors []Interceptor
}

// NewDispatcherParams holds the collaborators of a Dispatcher.
type NewDispatcherParams struct {
	Config       Config
	Registry     *registry.Registry
	Auth         Authenticator
	Interceptors []Interceptor
}

// NewDispatcher creates a Dispatcher. A nil Auth rejects every call to a
// method requiring authentication.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	cfg := params.Config
	if cfg.AuthFailure == (protocol.StatusPair{}) {
		cfg.AuthFailure = protocol.AuthFailure()
	}
	return &Dispatcher{
		cfg:          cfg,
		registry:     params.Registry,
		auth:         params.Auth,
		interceptors: params.Interceptors,
	}
}

// Dispatch handles one raw request text. It returns nil only when an
// interceptor short-circuits without a response.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) *protocol.Response {
	req, err := protocol.ParseRequest(raw)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - parse failed: %v", logPrefix, err))
		return d.errorResponse(nil, err)
	}

	hopType := req.Method
	if !req.HasMethod {
		hopType = d.cfg.Service
	}
	callchain.AppendHop(req, d.cfg.Address, hopType, d.cfg.Version)

	callCtx := ctx
	for i, ic := range d.interceptors {
		if cont, resp := ic.StartCall(ctx, req); !cont {
			// Interceptors already started still see the call end.
			return d.endCall(ctx, req, resp, d.interceptors[:i])
		}
		if cc, ok := ic.(CallContexter); ok {
			callCtx = cc.CallContext(callCtx, req)
		}
	}

	resp := d.call(callCtx, req)
	return d.endCall(ctx, req, resp, d.interceptors)
}

// endCall runs EndCall on interceptors in order.
func (d *Dispatcher) endCall(ctx context.Context, req *protocol.Request, resp *protocol.Response, interceptors []Interceptor) *protocol.Response {
	for _, ic := range interceptors {
		cont, override := ic.EndCall(ctx, req, resp)
		if !cont {
			return override
		}
		if override != nil {
			resp = override
		}
	}
	return resp
}

func (d *Dispatcher) call(ctx context.Context, req *protocol.Request) *protocol.Response {
	em, err := d.resolve(req)
	if err != nil {
		return d.errorResponse(req, err)
	}

	call := callchain.NewCall(ctx, req.Method, req.Context)
	if em.RequiresAuth {
		if err := d.authenticate(ctx, call); err != nil {
			return d.errorResponse(req, err)
		}
	}

	args, err := bind(em, req.Params)
	if err != nil {
		return d.errorResponse(req, err)
	}

	result, err := invoke(em, call, args)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s failed: %v", logPrefix, req.Method, err))
		return d.errorResponse(req, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return d.errorResponse(req, protocol.NewHandlerError(err))
	}
	return callchain.BuildResponse(req, call, data)
}

func (d *Dispatcher) resolve(req *protocol.Request) (*registry.ExposedMethod, error) {
	if !req.HasMethod {
		return nil, protocol.NewFormatError(fmt.Sprintf("property '%s' not found", protocol.PropMethod))
	}
	parts := strings.Split(req.Method, ":")
	if len(parts) != 3 {
		return nil, protocol.NewFormatError(fmt.Sprintf("'%s' is invalid, should be: service:class:method", protocol.PropMethod))
	}
	em, err := d.registry.Get(parts[1], parts[2])
	if err != nil {
		return nil, err
	}
	if !req.HasParams {
		return nil, protocol.NewFormatError(fmt.Sprintf("property '%s' not found", protocol.PropParams))
	}
	return em, nil
}

func (d *Dispatcher) authenticate(ctx context.Context, call *callchain.Call) error {
	if d.auth == nil {
		return protocol.NewAuthError(call.Token())
	}
	identity, err := d.auth.Authenticate(ctx, call.Token())
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - auth backend error: %v", logPrefix, err))
		return protocol.NewAuthError(call.Token())
	}
	if identity == nil {
		return protocol.NewAuthError(call.Token())
	}
	call.SetTokenInfo(identity)
	return nil
}

// bind converts params into the declared parameter types. Params that are
// not declared are ignored.
func bind(em *registry.ExposedMethod, params map[string]json.RawMessage) (registry.Args, error) {
	args := make(registry.Args, len(em.Params))
	for _, p := range em.Params {
		raw, ok := params[p.Name]
		if !ok {
			if !p.Optional {
				return nil, protocol.NewMissingParamError(p.Name, em.Name)
			}
			continue
		}
		if protocol.IsNull(raw) {
			args[p.Name] = nil
			continue
		}
		if p.Type == nil {
			args[p.Name] = raw
			continue
		}
		v := reflect.New(p.Type)
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return nil, protocol.NewFormatError(fmt.Sprintf("%s format error: %v", p.Name, err))
		}
		if err := schema.CheckValue(p.Shape, raw); err != nil {
			return nil, protocol.NewFormatError(fmt.Sprintf("%s format error: %v", p.Name, err))
		}
		args[p.Name] = v.Elem().Interface()
	}
	return args, nil
}

// invoke runs the handler and awaits asynchronous results. A panic is
// reported as a handler failure with its stack.
func invoke(em *registry.ExposedMethod, call *callchain.Call, args registry.Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = protocol.NewHandlerError(fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	result, err = em.Handler(call, args)
	if err == nil {
		if task, ok := result.(*registry.Task); ok {
			result, err = task.Await()
		}
	}
	if err != nil {
		var rpcErr *protocol.RpcError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		return nil, protocol.NewHandlerError(err)
	}
	return result, nil
}

func (d *Dispatcher) errorResponse(req *protocol.Request, err error) *protocol.Response {
	var rpcErr *protocol.RpcError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == protocol.CodeAuth {
			return callchain.BuildErrorResponse(req, d.cfg.AuthFailure.Status, d.cfg.AuthFailure.Info)
		}
		return callchain.BuildErrorResponse(req, protocol.StatusError, rpcErr.Message)
	}
	return callchain.BuildErrorResponse(req, protocol.StatusError, protocol.TruncateLines(err.Error(), protocol.MaxErrorLines))
}
