// Package protocol defines the JSON envelopes exchanged between rpcmesh nodes.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire property names.
const (
	PropMethod     = "method"
	PropContext    = "context"
	PropParams     = "params"
	PropSequence   = "sequence"
	PropDebug      = "debug"
	PropToken      = "token"
	PropSource     = "source"
	PropStatus     = "status"
	PropStatusInfo = "status_info"
	PropReturn     = "return"
)

// Request is the inbound call envelope.
type Request struct {
	Method  string                     `json:"method,omitempty"`
	Context *Context                   `json:"context,omitempty"`
	Params  map[string]json.RawMessage `json:"params"`

	// HasMethod and HasParams record whether the properties were present on the wire.
	HasMethod bool `json:"-"`
	HasParams bool `json:"-"`
}

// Context carries caller correlation and trace data.
type Context struct {
	Sequence json.RawMessage `json:"sequence,omitempty"`
	Debug    bool            `json:"debug,omitempty"`
	Token    string          `json:"token,omitempty"`
	Source   *Node           `json:"source,omitempty"`
}

// Response is the outbound call envelope.
type Response struct {
	Status     int             `json:"status"`
	StatusInfo string          `json:"status_info"`
	Context    ResponseContext `json:"context"`
	Return     json.RawMessage `json:"return,omitempty"`
}

// ResponseContext echoes the sequence and the call chain back to the caller.
type ResponseContext struct {
	Sequence json.RawMessage `json:"sequence,omitempty"`
	Source   *Node           `json:"source,omitempty"`
}

// Node is one hop of the call chain tree.
type Node struct {
	Address   string   `json:"address,omitempty"`
	Type      string   `json:"type,omitempty"`
	Version   string   `json:"version,omitempty"`
	Children  []*Node  `json:"children,omitempty"`
	DebugInfo []string `json:"debug_info,omitempty"`
}

// ParseRequest decodes raw request text. The text must be a JSON object;
// "method" must be a string and "params" an object when present.
func ParseRequest(data []byte) (*Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewParseError(err.Error())
	}
	if raw == nil {
		return nil, NewParseError("request must be a JSON object")
	}

	req := &Request{}
	if m, ok := raw[PropMethod]; ok && !isNull(m) {
		if err := json.Unmarshal(m, &req.Method); err != nil {
			return nil, NewFormatError(fmt.Sprintf("property '%s' must be a string", PropMethod))
		}
		req.HasMethod = true
	}
	if c, ok := raw[PropContext]; ok && !isNull(c) {
		var ctx Context
		if err := json.Unmarshal(c, &ctx); err != nil {
			return nil, NewFormatError(fmt.Sprintf("property '%s' format error: %v", PropContext, err))
		}
		req.Context = &ctx
	}
	if p, ok := raw[PropParams]; ok && !isNull(p) {
		if err := json.Unmarshal(p, &req.Params); err != nil {
			return nil, NewFormatError(fmt.Sprintf("property '%s' must be an object", PropParams))
		}
		if req.Params == nil {
			req.Params = map[string]json.RawMessage{}
		}
		req.HasParams = true
	}
	return req, nil
}

// Encode serializes a response to wire text.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses wire text into a Response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, NewParseError(err.Error())
	}
	return &resp, nil
}

// IsNull reports whether a raw JSON value is the literal null.
func IsNull(v json.RawMessage) bool {
	return isNull(v)
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
