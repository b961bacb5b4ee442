package jrpc

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeServerErrorMin..CodeServerErrorMax is the range reserved for
	// application-defined server errors.
	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000
)

// Error is a JSON-RPC error value. Methods and middleware may return
// one to control the exact code, message and data put on the wire; any
// other failure is reported as an internal error.
type Error struct {
	Code    int
	Message string
	Data    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("jrpc: %d %s", e.Code, e.Message)
}

// NewError creates an error with an explicit code.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ServerError creates an application error in the reserved
// -32000..-32099 range. Codes outside the range are clamped to
// CodeServerErrorMax.
func ServerError(code int, message string) *Error {
	if code < CodeServerErrorMin || code > CodeServerErrorMax {
		code = CodeServerErrorMax
	}
	return &Error{Code: code, Message: message}
}

// ErrParse returns a parse error (-32700).
func ErrParse(detail string) *Error {
	return &Error{Code: CodeParseError, Message: "parse error", Data: nonEmpty(detail)}
}

// ErrInvalidRequest returns an invalid request error (-32600).
func ErrInvalidRequest(detail string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "invalid request", Data: nonEmpty(detail)}
}

// ErrMethodNotFound returns a method not found error (-32601).
func ErrMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "method not found: " + method}
}

// ErrInvalidParams returns an invalid params error (-32602).
func ErrInvalidParams(detail string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "invalid params", Data: nonEmpty(detail)}
}

// ErrInternal returns an internal error (-32603). The detail is only
// attached as data when withDetail is set, to avoid leaking internals.
func ErrInternal(detail string, withDetail bool) *Error {
	e := &Error{Code: CodeInternalError, Message: "internal error"}
	if withDetail {
		e.Data = nonEmpty(detail)
	}
	return e
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// asError converts any failure into a wire error, passing recognized
// *Error values through unchanged.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal(err.Error(), false)
}

// Client-local errors. These are raised to the caller of Call/Batch
// and never placed on the wire.

// ErrConnectionClosed reports that the connection closed while a call
// was still pending, or that a call was attempted on a closed client.
var ErrConnectionClosed = errors.New("jrpc: connection closed")

// ErrCallTimeout reports that no response arrived within the call
// timeout. The pending entry is removed; a late response is discarded.
var ErrCallTimeout = errors.New("jrpc: call timed out")

// NameCollisionError reports a duplicate method name in a registry.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return "jrpc: method already registered: " + e.Name
}

// UnlinkedResultsError reports a batch response whose entries cannot
// be reconciled with the batch request by id.
type UnlinkedResultsError struct {
	Missing []any // request ids with no matching response
	Orphans int   // responses with no matching request id
}

func (e *UnlinkedResultsError) Error() string {
	return fmt.Sprintf("jrpc: batch results cannot be linked to calls (%d missing, %d orphaned)",
		len(e.Missing), e.Orphans)
}

// DuplicatedResultsError reports that a server sent more than one
// response for the same id.
type DuplicatedResultsError struct {
	ID any
}

func (e *DuplicatedResultsError) Error() string {
	return fmt.Sprintf("jrpc: duplicated results for id %v", e.ID)
}
