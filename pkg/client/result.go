package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// Result is the outcome of one outbound call. Err is set when the call could
// not be sent or the reply was not a response envelope; a remote failure is
// reported through Status and StatusInfo.
type Result struct {
	Headers    http.Header
	Text       string
	Status     int
	StatusInfo string
	Context    protocol.ResponseContext
	Return     json.RawMessage
	Err        error
}

// OK reports whether the call reached the remote method and it succeeded.
func (r *Result) OK() bool {
	return r.Err == nil && r.Status == protocol.StatusOK
}

// Error returns Err, or an error built from a non-OK status.
func (r *Result) Error() error {
	if r.Err != nil {
		return r.Err
	}
	if r.Status != protocol.StatusOK {
		return fmt.Errorf("remote status %d: %s", r.Status, r.StatusInfo)
	}
	return nil
}

// Decode unmarshals the returned value into v.
func (r *Result) Decode(v any) error {
	if err := r.Error(); err != nil {
		return err
	}
	if len(r.Return) == 0 {
		return fmt.Errorf("response has no return value")
	}
	return json.Unmarshal(r.Return, v)
}

func newResult(headers http.Header, text []byte) *Result {
	res := &Result{Headers: headers, Text: string(text)}
	resp, err := protocol.DecodeResponse(text)
	if err != nil {
		res.Err = err
		return res
	}
	res.Status = resp.Status
	res.StatusInfo = resp.StatusInfo
	res.Context = resp.Context
	res.Return = resp.Return
	return res
}
