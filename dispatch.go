package jrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Dispatcher resolves inbound payloads to outbound ones: parse,
// validate, run each request through the middleware chain, assemble.
// It is safe for concurrent use once constructed.
type Dispatcher struct {
	registry   *Registry
	middleware []Middleware
	handler    Handler
	codec      Codec
	log        zerolog.Logger
	errDetail  bool
}

// DispatcherOption configures a dispatcher at construction.
type DispatcherOption func(*Dispatcher)

// WithMiddleware sets the middleware chain. The first middleware is
// outermost. Recover() first is the typical configuration.
func WithMiddleware(mws ...Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.middleware = mws }
}

// WithLogger sets the logger used for failures that are dropped from
// the wire (notification errors, serialization problems).
func WithLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// WithCodec replaces the JSON codec.
func WithCodec(c Codec) DispatcherOption {
	return func(d *Dispatcher) { d.codec = c }
}

// WithErrorDetail attaches the failure text of uncaught errors to the
// error data field. Off by default.
func WithErrorDetail(on bool) DispatcherOption {
	return func(d *Dispatcher) { d.errDetail = on }
}

// NewDispatcher creates a dispatcher over the given registry. The
// middleware chain is composed once, here.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handler = chain(d.middleware, d.invoke)
	return d
}

// Registry returns the dispatcher's method registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// invoke is the terminal handler: registry lookup plus method
// invocation with the prepared binding plan.
func (d *Dispatcher) invoke(ctx context.Context, req *Request) (any, error) {
	m, ok := d.registry.Get(req.Method)
	if !ok {
		return nil, ErrMethodNotFound(req.Method)
	}
	return m.call(ctx, req, d.codec)
}

// Call runs a single request through the middleware chain and shapes
// the response. For a notification it returns nil and reports any
// failure to the logger only. Panics are converted to internal errors
// even when Recover() is not installed.
func (d *Dispatcher) Call(ctx context.Context, req *Request) *Response {
	result, err := d.safeCall(ctx, req)
	if req.IsNotification() {
		if err != nil {
			d.log.Warn().Str("method", req.Method).Err(err).
				Msg("error during notification dispatch dropped")
		}
		return nil
	}
	if err != nil {
		return NewErrorResponse(req.id, d.wireError(err))
	}
	return NewResponse(req.id, result)
}

func (d *Dispatcher) safeCall(ctx context.Context, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrInternal(fmt.Sprint(r), d.errDetail)
		}
	}()
	return d.handler(ctx, req)
}

func (d *Dispatcher) wireError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal(err.Error(), d.errDetail)
}

// Handle is the transport entry point: one inbound payload in, the
// serialized response payload out. extra seeds each parsed request's
// Extra map (transports inject the raw transport request here). A nil
// return means nothing must be sent.
func (d *Dispatcher) Handle(ctx context.Context, data []byte, extra map[string]any) []byte {
	elems, batch, perr := splitBatch(data, d.codec)
	if perr != nil {
		return d.encode([]*Response{NewErrorResponse(nil, perr)}, false)
	}

	// Requests in a batch are independent; processed sequentially,
	// responses keep the relative order of the non-notification slots.
	resps := make([]*Response, 0, len(elems))
	for _, elem := range elems {
		req, slotErr := decodeRequest(elem, d.codec)
		if slotErr != nil {
			resps = append(resps, slotErr)
			continue
		}
		for k, v := range extra {
			req.Extra[k] = v
		}
		if resp := d.Call(ctx, req); resp != nil {
			resps = append(resps, resp)
		}
	}
	return d.encode(resps, batch)
}

func (d *Dispatcher) encode(resps []*Response, batch bool) []byte {
	out, err := encodeResponses(resps, batch, d.codec)
	if err != nil {
		// encodeResponses degrades unencodable results to internal
		// errors per slot, so this is a codec-level failure.
		d.log.Error().Err(err).Msg("response serialization failed")
		out, _ = encodeResponses([]*Response{
			NewErrorResponse(nil, ErrInternal("response serialization failed", false)),
		}, false, Codec{})
	}
	return out
}
