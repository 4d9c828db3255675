package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for RpcError.
const (
	CodeSchema       = "SCHEMA_ERROR"
	CodeRegistration = "REGISTRATION_ERROR"
	CodeParse        = "PARSE_ERROR"
	CodeFormat       = "FORMAT_ERROR"
	CodeMissingParam = "MISSING_PARAMETER"
	CodeAuth         = "AUTH_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeHandler      = "HANDLER_ERROR"
	CodeNoEndpoint   = "NO_ENDPOINT"
)

// MaxErrorLines bounds the number of lines of a handler failure sent to callers.
const MaxErrorLines = 15

// RpcError is a structured rpcmesh error.
type RpcError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *RpcError) Error() string {
	return e.Code + ": " + e.Message
}

// NewRpcError creates a new RpcError.
func NewRpcError(code, message string) *RpcError {
	return &RpcError{Code: code, Message: message}
}

func NewSchemaError(message string) *RpcError       { return NewRpcError(CodeSchema, message) }
func NewRegistrationError(message string) *RpcError { return NewRpcError(CodeRegistration, message) }
func NewParseError(message string) *RpcError        { return NewRpcError(CodeParse, message) }
func NewFormatError(message string) *RpcError       { return NewRpcError(CodeFormat, message) }
func NewNotFoundError(message string) *RpcError     { return NewRpcError(CodeNotFound, message) }
func NewNoEndpointError(name string) *RpcError {
	return NewRpcError(CodeNoEndpoint, fmt.Sprintf("no endpoint for '%s'", name))
}

// NewMissingParamError reports a required parameter absent from params.
func NewMissingParamError(param, method string) *RpcError {
	return NewRpcError(CodeMissingParam, fmt.Sprintf("param '%s' of method '%s' is missing", param, method))
}

// NewAuthError reports a token the auth backend did not accept. The token is
// kept in Details and never sent back to the caller.
func NewAuthError(token string) *RpcError {
	return &RpcError{Code: CodeAuth, Message: "auth failed", Details: token}
}

// NewHandlerError wraps a failure raised by invoked logic.
func NewHandlerError(err error) *RpcError {
	return NewRpcError(CodeHandler, TruncateLines(err.Error(), MaxErrorLines))
}

// TruncateLines keeps at most n lines of s.
func TruncateLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n")
}

// CodeOf returns the RpcError code of err, or "" when err is not an RpcError.
func CodeOf(err error) string {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return ""
}

// IsCode reports whether err is an RpcError with the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
