package callchain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

const chainTestPrefix = "callchain:chain_test"

func node(addr string, children ...*protocol.Node) *protocol.Node {
	return &protocol.Node{Address: addr, Children: children}
}

func TestDeepestLeaf(t *testing.T) {
	root := node("", node("x"), node("a", node("b", node("c"))))
	depth, leaf := DeepestLeaf(root)
	if depth != 3 || leaf.Address != "c" {
		t.Errorf("%s - DeepestLeaf = (%d, %q), want (3, c)", chainTestPrefix, depth, leaf.Address)
	}

	depth, leaf = DeepestLeaf(node("solo"))
	if depth != 0 || leaf.Address != "solo" {
		t.Errorf("%s - DeepestLeaf(solo) = (%d, %q)", chainTestPrefix, depth, leaf.Address)
	}
}

func TestAppendHop_EmptyContext(t *testing.T) {
	req := &protocol.Request{Method: "svc:C:m"}
	AppendHop(req, "10.0.0.1:8900", "svc:C:m", "1.0.0")

	if req.Context == nil || req.Context.Source == nil {
		t.Fatalf("%s - context.source should be created", chainTestPrefix)
	}
	depth, leaf := DeepestLeaf(req.Context.Source)
	if depth != 1 || leaf.Address != "10.0.0.1:8900" || leaf.Type != "svc:C:m" || leaf.Version != "1.0.0" {
		t.Errorf("%s - unexpected hop: depth=%d leaf=%+v", chainTestPrefix, depth, leaf)
	}
}

func TestAppendHop_ExtendsByOne(t *testing.T) {
	req := &protocol.Request{Context: &protocol.Context{Source: node("", node("A", node("B")))}}
	AppendHop(req, "C", "t", "v")

	depth, leaf := DeepestLeaf(req.Context.Source)
	if depth != 3 || leaf.Address != "C" {
		t.Errorf("%s - depth=%d leaf=%q, want 3 C", chainTestPrefix, depth, leaf.Address)
	}
}

func TestAppendHop_ReplacesLeafChildren(t *testing.T) {
	leaf := node("A")
	req := &protocol.Request{Context: &protocol.Context{Source: node("", leaf)}}
	AppendHop(req, "B", "", "")
	AppendHop(req, "C", "", "")
	// The second hop goes under B, so A still has exactly one child.
	if len(leaf.Children) != 1 || leaf.Children[0].Address != "B" {
		t.Fatalf("%s - A children = %+v", chainTestPrefix, leaf.Children)
	}
}

func TestMergeSubTraces_Scenario(t *testing.T) {
	// A appended itself at depth 1 and called B.
	call := NewCall(context.Background(), "svc:A:m", nil)
	call.RecordSubTrace(node("", node("A"), node("", node("B"))))

	merged := call.MergeSubTraces(1)
	if len(merged) != 1 || merged[0].Address != "B" {
		t.Fatalf("%s - merged = %+v, want [B]", chainTestPrefix, merged)
	}
}

func TestMergeSubTraces_SkipsShallowAndNil(t *testing.T) {
	call := NewCall(context.Background(), "m", nil)
	call.RecordSubTrace(nil)
	call.RecordSubTrace(node("", node("A")))            // depth 1 only, nothing below A
	call.RecordSubTrace(node("", node("A", node("X")))) // X below A
	call.RecordSubTrace(node("", node("A", node("Y"), node("Z"))))

	merged := call.MergeSubTraces(1)
	var got []string
	for _, n := range merged {
		got = append(got, n.Address)
	}
	want := []string{"X", "Y", "Z"}
	if len(got) != len(want) {
		t.Fatalf("%s - merged = %v, want %v", chainTestPrefix, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s - merged[%d] = %q, want %q", chainTestPrefix, i, got[i], want[i])
		}
	}
}

func TestBuildResponse_MergesUnderOwnHop(t *testing.T) {
	req := &protocol.Request{Method: "svc:A:m", Params: map[string]json.RawMessage{}}
	AppendHop(req, "A", "svc:A:m", "1.0.0")
	req.Context.Sequence = json.RawMessage("42")
	req.Context.Token = "secret"
	req.Context.Debug = true

	call := NewCall(context.Background(), req.Method, req.Context)
	call.Debugf("step %d", 1)
	// B's response trace, built from the context A forwarded.
	call.RecordSubTrace(node("", node("A", node("B"))))

	resp := BuildResponse(req, call, json.RawMessage(`{"ok":true}`))
	if resp.Status != protocol.StatusOK || resp.StatusInfo != "" {
		t.Errorf("%s - status = (%d, %q)", chainTestPrefix, resp.Status, resp.StatusInfo)
	}
	if string(resp.Context.Sequence) != "42" {
		t.Errorf("%s - sequence = %s", chainTestPrefix, resp.Context.Sequence)
	}
	a := resp.Context.Source.Children[0]
	if a.Address != "A" || len(a.Children) != 1 || a.Children[0].Address != "B" {
		t.Fatalf("%s - A node = %+v", chainTestPrefix, a)
	}
	if len(a.DebugInfo) != 1 || a.DebugInfo[0] != "step 1" {
		t.Errorf("%s - debug info = %v", chainTestPrefix, a.DebugInfo)
	}
	data, _ := resp.Encode()
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)
	ctx := decoded["context"].(map[string]any)
	if _, leaked := ctx["token"]; leaked {
		t.Errorf("%s - token must not be echoed", chainTestPrefix)
	}
}

func TestBuildResponse_StatusOverride(t *testing.T) {
	call := NewCall(context.Background(), "m", nil)
	call.SetStatus(3, "partial")
	resp := BuildResponse(&protocol.Request{}, call, nil)
	if resp.Status != 3 || resp.StatusInfo != "partial" {
		t.Errorf("%s - status = (%d, %q)", chainTestPrefix, resp.Status, resp.StatusInfo)
	}
	if string(resp.Return) != "null" {
		t.Errorf("%s - return = %s, want null", chainTestPrefix, resp.Return)
	}
}

func TestBuildResponse_NoDebugWhenDisabled(t *testing.T) {
	req := &protocol.Request{}
	AppendHop(req, "A", "", "")
	call := NewCall(context.Background(), "m", req.Context)
	call.Debugf("ignored")
	resp := BuildResponse(req, call, nil)
	if len(resp.Context.Source.Children[0].DebugInfo) != 0 {
		t.Errorf("%s - debug lines attached without debug mode", chainTestPrefix)
	}
}

func TestBuildErrorResponse(t *testing.T) {
	req := &protocol.Request{}
	AppendHop(req, "A", "", "")
	req.Context.Sequence = json.RawMessage("1")
	resp := BuildErrorResponse(req, protocol.StatusError, "boom")
	if resp.Status != protocol.StatusError || resp.StatusInfo != "boom" {
		t.Errorf("%s - status = (%d, %q)", chainTestPrefix, resp.Status, resp.StatusInfo)
	}
	if resp.Context.Source == nil || string(resp.Context.Sequence) != "1" {
		t.Errorf("%s - context not echoed: %+v", chainTestPrefix, resp.Context)
	}
	if resp.Return != nil {
		t.Errorf("%s - error response should carry no return", chainTestPrefix)
	}

	if r := BuildErrorResponse(nil, protocol.StatusError, "x"); r.Context.Source != nil {
		t.Errorf("%s - nil request should give empty context", chainTestPrefix)
	}
}
