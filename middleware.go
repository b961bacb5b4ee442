package jrpc

import (
	"context"
	"fmt"
)

// Handler represents the next step in the middleware chain. The
// terminal handler performs the registry lookup and method invocation.
// A returned *Error keeps its code on the wire; any other error
// becomes an internal error at the dispatch boundary.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware wraps a Handler to add cross-cutting behavior. The first
// middleware passed to the dispatcher is outermost: it sees the raw
// request first and the final result last.
type Middleware func(next Handler) Handler

// chain composes middleware around a terminal handler, outermost
// first.
func chain(mws []Middleware, terminal Handler) Handler {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover is the exception-boundary middleware. Run it outermost to
// convert panics from inner middleware and methods into internal
// errors instead of letting them reach the transport. *Error values
// returned by inner handlers pass through unchanged.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = ErrInternal(fmt.Sprint(r), false)
				}
			}()
			return next(ctx, req)
		}
	}
}

// ExtraArgs marks each request so the binder merges Request.Extra
// entries into the method's keyword arguments. Values supplied by the
// request itself win on key conflict, and positional slots are never
// touched. Pair it with middleware or transports that populate Extra.
func ExtraArgs() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			req.mergeExtra = true
			return next(ctx, req)
		}
	}
}
