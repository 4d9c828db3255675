// Package callchain threads the hop trace tree through call envelopes.
//
// Every node that serves a request appends exactly one hop under the deepest
// leaf of context.source. Sub-traces returned by nested outbound calls are
// merged back under this node's own hop when the response is built.
package callchain

import (
	"github.com/morezero/rpcmesh/pkg/protocol"
)

// DeepestLeaf follows the last child of n until a node without children is
// reached. depth is the number of children traversals performed.
func DeepestLeaf(n *protocol.Node) (int, *protocol.Node) {
	depth := 0
	for len(n.Children) > 0 {
		n = n.Children[len(n.Children)-1]
		depth++
	}
	return depth, n
}

// AppendHop extends req's trace by one hop. A missing context or source is
// created empty first. The deepest leaf's children are replaced by the new node.
func AppendHop(req *protocol.Request, address, typ, version string) *protocol.Node {
	if req.Context == nil {
		req.Context = &protocol.Context{}
	}
	if req.Context.Source == nil {
		req.Context.Source = &protocol.Node{}
	}
	_, leaf := DeepestLeaf(req.Context.Source)
	hop := &protocol.Node{Address: address, Type: typ, Version: version}
	leaf.Children = []*protocol.Node{hop}
	return hop
}

// mergeFragments keeps, for every non-nil fragment, what happened below
// skipDepth levels of it.
func mergeFragments(fragments []*protocol.Node, skipDepth int) []*protocol.Node {
	var out []*protocol.Node
	for _, frag := range fragments {
		if frag == nil {
			continue
		}
		node := frag
		steps := 0
		for steps < skipDepth && len(node.Children) > 0 {
			node = node.Children[len(node.Children)-1]
			steps++
		}
		if steps == skipDepth && len(node.Children) > 0 {
			out = append(out, node.Children...)
		}
	}
	return out
}
