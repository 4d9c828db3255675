package callchain

import (
	"encoding/json"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// BuildResponse assembles a successful response. Only sequence and source are
// echoed from the request context. When source is present, sub-traces recorded
// on call are merged under this node's hop and debug lines are attached to it.
// call may be nil.
func BuildResponse(req *protocol.Request, call *Call, result json.RawMessage) *protocol.Response {
	resp := &protocol.Response{Status: protocol.StatusOK}
	if call != nil {
		st := call.Status()
		resp.Status, resp.StatusInfo = st.Status, st.Info
	}

	if req != nil && req.Context != nil {
		resp.Context.Sequence = req.Context.Sequence
		if req.Context.Source != nil {
			resp.Context.Source = req.Context.Source
			depth, leaf := DeepestLeaf(resp.Context.Source)
			if call != nil {
				if merged := call.MergeSubTraces(depth); len(merged) > 0 {
					leaf.Children = merged
				}
				if call.Debug() {
					if lines := call.DebugInfo(); len(lines) > 0 {
						leaf.DebugInfo = lines
					}
				}
			}
		}
	}

	if result == nil {
		result = json.RawMessage("null")
	}
	resp.Return = result
	return resp
}

// BuildErrorResponse assembles an error response carrying only sequence and
// source from the request context. No trace merge or debug lines are applied.
func BuildErrorResponse(req *protocol.Request, status int, info string) *protocol.Response {
	resp := &protocol.Response{Status: status, StatusInfo: info}
	if req != nil && req.Context != nil {
		resp.Context.Sequence = req.Context.Sequence
		resp.Context.Source = req.Context.Source
	}
	return resp
}
