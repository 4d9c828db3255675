// Package demo is the sample service served by "rpcmesh serve".
package demo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/morezero/rpcmesh/pkg/callchain"
	"github.com/morezero/rpcmesh/pkg/client"
	"github.com/morezero/rpcmesh/pkg/registry"
	"github.com/morezero/rpcmesh/pkg/schema"
)

const logPrefix = "demo:demo"

// Status returned by Records.audit when a profile has no tags.
const (
	StatusUntagged     = 2
	StatusUntaggedInfo = "profile has no tags"
)

// Role is a profile role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

func (Role) EnumValues() []string {
	return []string{string(RoleAdmin), string(RoleMember), string(RoleGuest)}
}

// Profile is the record echoed by the Records class.
type Profile struct {
	Name   string             `json:"name"`
	Role   Role               `json:"role"`
	Tags   schema.Set[string] `json:"tags"`
	Scores map[string]float64 `json:"scores"`
	Extra  json.RawMessage    `json:"extra,omitempty"`
}

// Register registers the demo classes. caller is used by Relay for nested
// calls and may be nil when Relay is not needed.
func Register(reg *registry.Registry, caller *client.Caller) error {
	classes := []registry.Class{CalcClass(), RecordsClass()}
	if caller != nil {
		classes = append(classes, RelayClass(caller))
	}
	return reg.MustRegister(classes...)
}

// CalcClass is an open arithmetic class.
func CalcClass() registry.Class {
	return registry.Class{
		Type:   "demo.Calc",
		Export: &registry.Export{Name: "Calc", Desc: "integer and float arithmetic"},
		Auth:   registry.Need(false),
		Methods: []registry.Method{
			{
				Name:   "add",
				Export: &registry.Export{Desc: "adds two integers"},
				Params: []registry.Param{
					registry.P[int64]("a", "first addend"),
					registry.P[int64]("b", "second addend"),
				},
				Result: registry.Returns[int64]("a + b"),
				Handler: func(call *callchain.Call, args registry.Args) (any, error) {
					a, _ := registry.Arg[int64](args, "a")
					b, _ := registry.Arg[int64](args, "b")
					call.Debugf("add %d + %d", a, b)
					return a + b, nil
				},
			},
			{
				Name:   "divide",
				Export: &registry.Export{Desc: "divides a by b"},
				Params: []registry.Param{
					registry.P[float64]("a", "dividend"),
					registry.P[float64]("b", "divisor, not zero"),
				},
				Result: registry.Returns[float64]("a / b"),
				Handler: func(_ *callchain.Call, args registry.Args) (any, error) {
					a, _ := registry.Arg[float64](args, "a")
					b, _ := registry.Arg[float64](args, "b")
					if b == 0 {
						return nil, errors.New("division by zero")
					}
					return a / b, nil
				},
			},
			{
				Name:   "sum",
				Export: &registry.Export{Desc: "sums a list, computed asynchronously"},
				Params: []registry.Param{
					registry.P[[]int64]("values", "numbers to add"),
					registry.Opt[int64]("scale", "multiplier applied to the total, default 1"),
				},
				Result: registry.Returns[int64]("scaled total"),
				Handler: func(_ *callchain.Call, args registry.Args) (any, error) {
					values, _ := registry.Arg[[]int64](args, "values")
					scale := registry.ArgOr[int64](args, "scale", 1)
					return registry.Spawn(func() (any, error) {
						var total int64
						for _, v := range values {
							total += v
						}
						return total * scale, nil
					}), nil
				},
			},
		},
	}
}

// RecordsClass handles Profile records. Its methods require a token.
func RecordsClass() registry.Class {
	return registry.Class{
		Type:   "demo.Records",
		Export: &registry.Export{Name: "Records", Desc: "profile records"},
		Methods: []registry.Method{
			{
				Name:   "echo",
				Export: &registry.Export{Desc: "returns the profile unchanged"},
				Params: []registry.Param{registry.P[Profile]("profile", "profile to echo")},
				Result: registry.Returns[Profile]("the same profile"),
				Handler: func(call *callchain.Call, args registry.Args) (any, error) {
					p, ok := registry.Arg[Profile](args, "profile")
					if !ok {
						return nil, nil
					}
					call.Debugf("echo %s as %v", p.Name, call.TokenInfo())
					return p, nil
				},
			},
			{
				Name:   "whoami",
				Export: &registry.Export{Desc: "returns the caller identity"},
				Result: registry.Returns[string]("identity bound to the token"),
				Handler: func(call *callchain.Call, _ registry.Args) (any, error) {
					return fmt.Sprint(call.TokenInfo()), nil
				},
			},
			{
				Name:   "audit",
				Export: &registry.Export{Desc: "lists sorted tags; an untagged profile reports a warning status"},
				Params: []registry.Param{registry.P[Profile]("profile", "profile to audit")},
				Result: registry.Returns[[]string]("sorted tags"),
				Handler: func(call *callchain.Call, args registry.Args) (any, error) {
					p, _ := registry.Arg[Profile](args, "profile")
					tags := p.Tags.Items()
					sort.Strings(tags)
					if len(tags) == 0 {
						call.SetStatus(StatusUntagged, StatusUntaggedInfo)
					}
					return tags, nil
				},
			},
		},
	}
}

// RelayClass forwards calls to other srv nodes, merging their traces into
// its own response.
func RelayClass(caller *client.Caller) registry.Class {
	return registry.Class{
		Type:   "demo.Relay",
		Export: &registry.Export{Name: "Relay", Desc: "forwards calls to other nodes"},
		Auth:   registry.Need(false),
		Methods: []registry.Method{
			{
				Name:   "forward",
				Export: &registry.Export{Desc: "calls a srv-tier method and returns its result"},
				Params: []registry.Param{
					registry.P[string]("method", "target as service:class:method"),
					registry.Opt[json.RawMessage]("params", "params object for the target"),
				},
				Result: registry.Returns[json.RawMessage]("the target's return value"),
				Handler: func(call *callchain.Call, args registry.Args) (any, error) {
					method, _ := registry.Arg[string](args, "method")
					params, _ := registry.Arg[json.RawMessage](args, "params")
					call.Debugf("forward %s", method)

					var body any
					if len(params) > 0 {
						body = params
					}
					res := caller.CallSrv(call.Context(), method, call, body)
					if err := res.Error(); err != nil {
						slog.Warn(fmt.Sprintf("%s - forward %s: %v", logPrefix, method, err))
						return nil, fmt.Errorf("forward %s: %w", method, err)
					}
					return res.Return, nil
				},
			},
			{
				Name:   "fanout",
				Export: &registry.Export{Desc: "calls a method on every listed service and collects the results"},
				Params: []registry.Param{
					registry.P[[]string]("services", "srv-tier service names"),
					registry.P[string]("target", "class:method called on each service"),
				},
				Result: registry.Returns[map[string]json.RawMessage]("result per service; failures map to null"),
				Handler: func(call *callchain.Call, args registry.Args) (any, error) {
					services, _ := registry.Arg[[]string](args, "services")
					target, _ := registry.Arg[string](args, "target")
					out := make(map[string]json.RawMessage, len(services))
					for _, svc := range services {
						method := strings.Join([]string{svc, target}, ":")
						res := caller.CallSrv(call.Context(), method, call, nil)
						if !res.OK() {
							call.Debugf("%s failed: %v", method, res.Error())
							out[svc] = json.RawMessage("null")
							continue
						}
						out[svc] = res.Return
					}
					return out, nil
				},
			},
		},
	}
}
