package jrpc

import "net/http"

// Well-known Request.Extra keys seeded by the transport adapters.
const (
	// ExtraHTTPRequest holds the *http.Request a payload arrived on,
	// for both the HTTP adapter and the WebSocket upgrade request.
	ExtraHTTPRequest = "http_request"

	// ExtraWSConn holds the *WSConn a payload arrived on.
	ExtraWSConn = "ws_conn"
)

// HTTPRequest returns the transport-level HTTP request attached to a
// dispatched request, or nil.
func HTTPRequest(req *Request) *http.Request {
	if r, ok := req.Extra[ExtraHTTPRequest].(*http.Request); ok {
		return r
	}
	return nil
}

// WSConnection returns the WebSocket connection a request arrived on,
// or nil for HTTP-dispatched requests.
func WSConnection(req *Request) *WSConn {
	if c, ok := req.Extra[ExtraWSConn].(*WSConn); ok {
		return c
	}
	return nil
}
