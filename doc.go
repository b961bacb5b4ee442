// Package jrpc implements the JSON-RPC 2.0 protocol over two
// transports: stateless HTTP POST exchanges and persistent WebSocket
// streams.
//
// The server side is built from three pieces. A [Registry] maps method
// names to [Method] descriptors; descriptors are produced once, at
// registration time, by inspecting the function's signature, so no
// reflection happens per call. A [Dispatcher] parses inbound payloads
// (single requests or batches), runs each request through a middleware
// chain, and assembles the response payload, suppressing slots for
// notifications. [HTTPHandler] and [WSServer] adapt the dispatcher to
// their transport.
//
//	reg := jrpc.NewRegistry()
//	reg.AddFunc(func(ctx context.Context, p struct {
//		A int `json:"a"`
//		B int `json:"b"`
//	}) (int, error) {
//		return p.A + p.B, nil
//	}, jrpc.WithName("sum"))
//
//	d := jrpc.NewDispatcher(reg, jrpc.WithMiddleware(jrpc.Recover()))
//	http.Handle("/rpc", jrpc.NewHTTPHandler(d))
//
// The client side is symmetric: [HTTPClient] awaits each POST reply,
// while [WSClient] correlates asynchronous responses to pending calls
// by id, tolerating out-of-order arrival. Both implement [Caller].
//
// Methods and middleware signal protocol errors by returning [*Error];
// every other failure is reported to the peer as an internal error
// (-32603) without detail.
package jrpc
