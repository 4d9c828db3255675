package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/morezero/rpcmesh/pkg/callchain"
	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/registry"
	"github.com/morezero/rpcmesh/pkg/schema"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type mode string

func (mode) EnumValues() []string { return []string{"fast", "safe"} }

type job struct {
	Name  string `json:"name"`
	Modes []mode `json:"modes"`
}

type tokenAuth map[string]string

func (a tokenAuth) Authenticate(_ context.Context, token string) (any, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return nil, nil
}

func newTestDispatcher(t *testing.T, invoked *int32, interceptors ...Interceptor) *Dispatcher {
	t.Helper()
	reg := registry.NewRegistry()
	err := reg.Register(registry.Class{
		Type:   "test.Calc",
		Export: &registry.Export{Name: "Calc", Desc: "calculator"},
		Auth:   registry.Need(false),
		Methods: []registry.Method{
			{
				Name:   "add",
				Export: &registry.Export{Desc: "adds"},
				Params: []registry.Param{registry.P[int]("a", "a"), registry.P[int]("b", "b")},
				Result: registry.Returns[int]("sum"),
				Handler: func(call *callchain.Call, args registry.Args) (any, error) {
					atomic.AddInt32(invoked, 1)
					a, _ := registry.Arg[int](args, "a")
					b, _ := registry.Arg[int](args, "b")
					call.Debugf("adding %d and %d", a, b)
					return a + b, nil
				},
			},
			{
				Name:   "echo",
				Export: &registry.Export{Desc: "echoes"},
				Params: []registry.Param{
					registry.P[*point]("p", "point"),
					registry.Opt[schema.Set[string]]("tags", "tags"),
					registry.Opt[json.RawMessage]("extra", "anything"),
				},
				Result: registry.Returns[map[string]json.RawMessage]("echo"),
				Handler: func(_ *callchain.Call, args registry.Args) (any, error) {
					p, _ := registry.Arg[*point](args, "p")
					_, hasTags := args["tags"]
					return map[string]any{"p": p, "hasTags": hasTags}, nil
				},
			},
			{
				Name:   "fail",
				Export: &registry.Export{Desc: "fails"},
				Handler: func(_ *callchain.Call, _ registry.Args) (any, error) {
					return nil, errors.New(strings.Repeat("line\n", 30))
				},
			},
			{
				Name:   "boom",
				Export: &registry.Export{Desc: "panics"},
				Handler: func(_ *callchain.Call, _ registry.Args) (any, error) {
					panic("kaboom")
				},
			},
			{
				Name:   "run",
				Export: &registry.Export{Desc: "runs a job"},
				Params: []registry.Param{registry.P[mode]("mode", "run mode"), registry.Opt[job]("job", "job spec")},
				Result: registry.Returns[string]("mode"),
				Handler: func(_ *callchain.Call, args registry.Args) (any, error) {
					atomic.AddInt32(invoked, 1)
					m, _ := registry.Arg[mode](args, "mode")
					return string(m), nil
				},
			},
			{
				Name:   "later",
				Export: &registry.Export{Desc: "async"},
				Handler: func(call *callchain.Call, _ registry.Args) (any, error) {
					call.SetStatus(7, "deferred")
					return registry.Spawn(func() (any, error) { return "done", nil }), nil
				},
			},
			{
				Name:   "whoami",
				Export: &registry.Export{Desc: "identity"},
				Auth:   registry.Need(true),
				Handler: func(call *callchain.Call, _ registry.Args) (any, error) {
					return call.TokenInfo(), nil
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("%s - register: %v", dispatcherTestPrefix, err)
	}
	return NewDispatcher(NewDispatcherParams{
		Config:       Config{Address: "127.0.0.1:8900", Service: "svc", Version: "1.2.3"},
		Registry:     reg,
		Auth:         tokenAuth{"good": "alice"},
		Interceptors: interceptors,
	})
}

func dispatch(t *testing.T, d *Dispatcher, body string) *protocol.Response {
	t.Helper()
	resp := d.Dispatch(context.Background(), []byte(body))
	if resp == nil {
		t.Fatalf("%s - nil response for %s", dispatcherTestPrefix, body)
	}
	return resp
}

func TestDispatch_RoundTrip(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	resp := dispatch(t, d, `{"method":"svc:Calc:add","context":{"sequence":9},"params":{"a":2,"b":3}}`)
	if resp.Status != protocol.StatusOK {
		t.Fatalf("%s - status = %d %q", dispatcherTestPrefix, resp.Status, resp.StatusInfo)
	}
	if string(resp.Return) != "5" {
		t.Errorf("%s - return = %s, want 5", dispatcherTestPrefix, resp.Return)
	}
	if string(resp.Context.Sequence) != "9" {
		t.Errorf("%s - sequence = %s", dispatcherTestPrefix, resp.Context.Sequence)
	}
	hop := resp.Context.Source.Children[0]
	if hop.Address != "127.0.0.1:8900" || hop.Type != "svc:Calc:add" || hop.Version != "1.2.3" {
		t.Errorf("%s - hop = %+v", dispatcherTestPrefix, hop)
	}
}

func TestDispatch_DebugLines(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	resp := dispatch(t, d, `{"method":"svc:Calc:add","context":{"debug":true},"params":{"a":1,"b":1}}`)
	hop := resp.Context.Source.Children[0]
	if len(hop.DebugInfo) != 1 || hop.DebugInfo[0] != "adding 1 and 1" {
		t.Errorf("%s - debug info = %v", dispatcherTestPrefix, hop.DebugInfo)
	}
}

func TestDispatch_Binding(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	resp := dispatch(t, d, `{"method":"svc:Calc:echo","params":{"p":{"x":1,"y":2},"tags":["a"],"ignored":true}}`)
	if resp.Status != protocol.StatusOK {
		t.Fatalf("%s - status = %d %q", dispatcherTestPrefix, resp.Status, resp.StatusInfo)
	}
	var got map[string]any
	_ = json.Unmarshal(resp.Return, &got)
	if got["hasTags"] != true {
		t.Errorf("%s - tags not bound: %v", dispatcherTestPrefix, got)
	}

	resp = dispatch(t, d, `{"method":"svc:Calc:echo","params":{"p":null}}`)
	if resp.Status != protocol.StatusOK || !strings.Contains(string(resp.Return), `"p":null`) {
		t.Errorf("%s - null binding: %d %s", dispatcherTestPrefix, resp.Status, resp.Return)
	}
}

func TestDispatch_Errors(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	cases := []struct {
		name   string
		body   string
		status int
		info   string
	}{
		{"not json", `{oops`, protocol.StatusError, ""},
		{"missing method", `{"params":{}}`, protocol.StatusError, "property 'method' not found"},
		{"bad method", `{"method":"Calc:add","params":{}}`, protocol.StatusError, "'method' is invalid, should be: service:class:method"},
		{"unknown", `{"method":"svc:Calc:nope","params":{}}`, protocol.StatusError, "service 'Calc' method 'nope' not exist"},
		{"no params", `{"method":"svc:Calc:add"}`, protocol.StatusError, "property 'params' not found"},
		{"missing param", `{"method":"svc:Calc:add","params":{"a":1}}`, protocol.StatusError, "param 'b' of method 'add' is missing"},
		{"bad param", `{"method":"svc:Calc:add","params":{"a":"x","b":1}}`, protocol.StatusError, "a format error"},
		{"auth", `{"method":"svc:Calc:whoami","context":{"token":"bad"},"params":{}}`, protocol.DefaultAuthStatus, protocol.DefaultAuthStatusInfo},
		{"no token", `{"method":"svc:Calc:whoami","params":{}}`, protocol.DefaultAuthStatus, protocol.DefaultAuthStatusInfo},
		{"panic", `{"method":"svc:Calc:boom","params":{}}`, protocol.StatusError, "panic: kaboom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := dispatch(t, d, tc.body)
			if resp.Status != tc.status {
				t.Errorf("%s - status = %d, want %d (%q)", dispatcherTestPrefix, resp.Status, tc.status, resp.StatusInfo)
			}
			if !strings.HasPrefix(resp.StatusInfo, tc.info) {
				t.Errorf("%s - status_info = %q, want prefix %q", dispatcherTestPrefix, resp.StatusInfo, tc.info)
			}
			if resp.Return != nil {
				t.Errorf("%s - error response carries return %s", dispatcherTestPrefix, resp.Return)
			}
		})
	}
	if invoked != 0 {
		t.Errorf("%s - failing requests must not reach the handler", dispatcherTestPrefix)
	}
}

func TestDispatch_ErrorKeepsContext(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	resp := dispatch(t, d, `{"method":"svc:Calc:add","context":{"sequence":3,"debug":true},"params":{}}`)
	if string(resp.Context.Sequence) != "3" || resp.Context.Source == nil {
		t.Fatalf("%s - context not echoed: %+v", dispatcherTestPrefix, resp.Context)
	}
	if len(resp.Context.Source.Children[0].DebugInfo) != 0 {
		t.Errorf("%s - error responses carry no debug lines", dispatcherTestPrefix)
	}
}

func TestDispatch_HandlerErrorTruncated(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	resp := dispatch(t, d, `{"method":"svc:Calc:fail","params":{}}`)
	if n := len(strings.Split(resp.StatusInfo, "\n")); n != protocol.MaxErrorLines {
		t.Errorf("%s - %d lines, want %d", dispatcherTestPrefix, n, protocol.MaxErrorLines)
	}
}

func TestDispatch_AuthSuccess(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	resp := dispatch(t, d, `{"method":"svc:Calc:whoami","context":{"token":"good"},"params":{}}`)
	if resp.Status != protocol.StatusOK || string(resp.Return) != `"alice"` {
		t.Errorf("%s - whoami = %d %s", dispatcherTestPrefix, resp.Status, resp.Return)
	}
}

func TestDispatch_NilAuthRejects(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	d.auth = nil
	resp := dispatch(t, d, `{"method":"svc:Calc:whoami","context":{"token":"good"},"params":{}}`)
	if resp.Status != protocol.DefaultAuthStatus {
		t.Errorf("%s - status = %d", dispatcherTestPrefix, resp.Status)
	}
}

func TestDispatch_AsyncTask(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)
	resp := dispatch(t, d, `{"method":"svc:Calc:later","params":{}}`)
	if resp.Status != 7 || resp.StatusInfo != "deferred" || string(resp.Return) != `"done"` {
		t.Errorf("%s - later = %d %q %s", dispatcherTestPrefix, resp.Status, resp.StatusInfo, resp.Return)
	}
}

func TestDispatch_InterceptorShortCircuit(t *testing.T) {
	var invoked int32
	canned := &protocol.Response{Status: 42, StatusInfo: "blocked"}
	d := newTestDispatcher(t, &invoked, InterceptorFuncs{
		OnStart: func(_ context.Context, req *protocol.Request) (bool, *protocol.Response) {
			return !strings.HasSuffix(req.Method, ":add"), canned
		},
	})
	resp := dispatch(t, d, `{"method":"svc:Calc:add","params":{"a":1,"b":2}}`)
	if resp != canned {
		t.Errorf("%s - short-circuit response not returned as-is", dispatcherTestPrefix)
	}
	if invoked != 0 {
		t.Errorf("%s - handler ran after short-circuit", dispatcherTestPrefix)
	}
}

func TestDispatch_InterceptorOrderAndOverride(t *testing.T) {
	var invoked int32
	var order []string
	first := InterceptorFuncs{
		OnStart: func(_ context.Context, req *protocol.Request) (bool, *protocol.Response) {
			order = append(order, "start1")
			req.Params["b"] = json.RawMessage("10")
			return true, nil
		},
		OnEnd: func(_ context.Context, _ *protocol.Request, resp *protocol.Response) (bool, *protocol.Response) {
			order = append(order, "end1")
			replaced := *resp
			replaced.StatusInfo = "seen"
			return true, &replaced
		},
	}
	second := InterceptorFuncs{
		OnStart: func(_ context.Context, _ *protocol.Request) (bool, *protocol.Response) {
			order = append(order, "start2")
			return true, nil
		},
		OnEnd: func(_ context.Context, _ *protocol.Request, resp *protocol.Response) (bool, *protocol.Response) {
			order = append(order, "end2:"+resp.StatusInfo)
			return true, nil
		},
	}
	d := newTestDispatcher(t, &invoked, first, second)
	resp := dispatch(t, d, `{"method":"svc:Calc:add","params":{"a":1,"b":2}}`)
	if string(resp.Return) != "11" || resp.StatusInfo != "seen" {
		t.Errorf("%s - resp = %s %q", dispatcherTestPrefix, resp.Return, resp.StatusInfo)
	}
	want := "start1,start2,end1,end2:seen"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("%s - order = %s, want %s", dispatcherTestPrefix, got, want)
	}
}

func TestDispatch_ShortCircuitEndsStartedInterceptors(t *testing.T) {
	var invoked int32
	var started, ended int
	var endedWith *protocol.Response
	canned := &protocol.Response{Status: 42, StatusInfo: "blocked"}
	first := InterceptorFuncs{
		OnStart: func(_ context.Context, _ *protocol.Request) (bool, *protocol.Response) {
			started++
			return true, nil
		},
		OnEnd: func(_ context.Context, _ *protocol.Request, resp *protocol.Response) (bool, *protocol.Response) {
			ended++
			endedWith = resp
			return true, nil
		},
	}
	blocker := InterceptorFuncs{
		OnStart: func(_ context.Context, _ *protocol.Request) (bool, *protocol.Response) {
			return false, canned
		},
		OnEnd: func(_ context.Context, _ *protocol.Request, _ *protocol.Response) (bool, *protocol.Response) {
			t.Errorf("%s - EndCall ran on the interceptor that stopped the call", dispatcherTestPrefix)
			return true, nil
		},
	}
	d := newTestDispatcher(t, &invoked, first, blocker)
	for i := 0; i < 3; i++ {
		if resp := dispatch(t, d, `{"method":"svc:Calc:add","params":{"a":1,"b":2}}`); resp != canned {
			t.Errorf("%s - short-circuit response not returned", dispatcherTestPrefix)
		}
	}
	if started != 3 || ended != 3 {
		t.Errorf("%s - started %d ended %d, want 3 and 3", dispatcherTestPrefix, started, ended)
	}
	if endedWith != canned {
		t.Errorf("%s - EndCall did not see the short-circuit response", dispatcherTestPrefix)
	}
	if invoked != 0 {
		t.Errorf("%s - handler ran after short-circuit", dispatcherTestPrefix)
	}
}

type ctxKey struct{}

// tagging marks the handler context through CallContext.
type tagging struct {
	InterceptorFuncs
}

func (tagging) CallContext(ctx context.Context, _ *protocol.Request) context.Context {
	return context.WithValue(ctx, ctxKey{}, "tagged")
}

func TestDispatch_CallContext(t *testing.T) {
	reg := registry.NewRegistry()
	var seen any
	err := reg.Register(registry.Class{
		Type:   "test.Ctx",
		Export: &registry.Export{Name: "Ctx", Desc: "context reader"},
		Auth:   registry.Need(false),
		Methods: []registry.Method{{
			Name:   "get",
			Export: &registry.Export{Desc: "reads the context tag"},
			Result: registry.Returns[string]("tag"),
			Handler: func(call *callchain.Call, _ registry.Args) (any, error) {
				seen = call.Context().Value(ctxKey{})
				return "ok", nil
			},
		}},
	})
	if err != nil {
		t.Fatalf("%s - register: %v", dispatcherTestPrefix, err)
	}
	d := NewDispatcher(NewDispatcherParams{Registry: reg, Interceptors: []Interceptor{tagging{}}})
	resp := dispatch(t, d, `{"method":"svc:Ctx:get","params":{}}`)
	if resp.Status != protocol.StatusOK {
		t.Fatalf("%s - status %d %q", dispatcherTestPrefix, resp.Status, resp.StatusInfo)
	}
	if seen != "tagged" {
		t.Errorf("%s - handler context value = %v", dispatcherTestPrefix, seen)
	}
}

func TestDispatch_EnumOutsideDomain(t *testing.T) {
	var invoked int32
	d := newTestDispatcher(t, &invoked)

	resp := dispatch(t, d, `{"method":"svc:Calc:run","params":{"mode":"safe"}}`)
	if resp.Status != protocol.StatusOK || string(resp.Return) != `"safe"` {
		t.Errorf("%s - run = %d %q %s", dispatcherTestPrefix, resp.Status, resp.StatusInfo, resp.Return)
	}

	tests := []struct {
		name   string
		params string
		want   string
	}{
		{"param", `{"mode":"superuser"}`, `mode format error: "superuser" is not one of fast|safe`},
		{"nested field", `{"mode":"fast","job":{"name":"x","modes":["fast","turbo"]}}`, `job format error: modes[1]: "turbo"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, d, `{"method":"svc:Calc:run","params":`+tt.params+`}`)
			if resp.Status != protocol.StatusError || !strings.Contains(resp.StatusInfo, tt.want) {
				t.Errorf("%s - got %d %q, want error containing %q", dispatcherTestPrefix, resp.Status, resp.StatusInfo, tt.want)
			}
		})
	}
	if invoked != 1 {
		t.Errorf("%s - handler ran %d times, want 1", dispatcherTestPrefix, invoked)
	}
}
