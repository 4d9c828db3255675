package server

import "net/http"

// HTTPInterceptor hooks the transport stages that run before the dispatcher
// sees a request.
type HTTPInterceptor interface {
	// StartHTTP runs before admission. Returning false answers 200 with an
	// empty body.
	StartHTTP(r *http.Request) bool
	// BeforeCall runs after admission and before the body is read. When it
	// does not continue, text is sent as the response. When it continues
	// with a non-empty text, that text replaces the request body.
	BeforeCall(r *http.Request) (bool, string)
}

// HTTPInterceptorFuncs adapts optional functions to an HTTPInterceptor.
type HTTPInterceptorFuncs struct {
	OnStartHTTP  func(r *http.Request) bool
	OnBeforeCall func(r *http.Request) (bool, string)
}

func (f HTTPInterceptorFuncs) StartHTTP(r *http.Request) bool {
	if f.OnStartHTTP == nil {
		return true
	}
	return f.OnStartHTTP(r)
}

func (f HTTPInterceptorFuncs) BeforeCall(r *http.Request) (bool, string) {
	if f.OnBeforeCall == nil {
		return true, ""
	}
	return f.OnBeforeCall(r)
}
