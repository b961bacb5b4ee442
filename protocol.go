package jrpc

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-json-experiment/json/jsontext"
)

// Version is the protocol version literal carried by every envelope.
const Version = "2.0"

// Request is a single JSON-RPC request envelope. The id is fixed at
// construction; a request without an id is a notification and never
// produces a response.
type Request struct {
	Method string
	Params jsontext.Value

	// Extra is a mutable side-channel attached to the request instance.
	// Transports seed it (see ExtraHTTPRequest, ExtraWSConn) and
	// middleware may use it to pass values to later middleware or, via
	// ExtraArgs, into the method's keyword arguments. Never serialized.
	Extra map[string]any

	id         any
	mergeExtra bool
}

// NewRequest builds a request with the given id. The id must be a
// string or an integer. Params may be nil, a jsontext.Value, or any
// value encodable by the codec.
func NewRequest(id any, method string, params any) (*Request, error) {
	if id == nil {
		return nil, ErrInvalidRequest("a request needs an id, use NewNotification")
	}
	return newRequest(id, method, params, defaultCodec())
}

// NewNotification builds a request without an id. No response is ever
// produced for it, even on failure.
func NewNotification(method string, params any) (*Request, error) {
	return newRequest(nil, method, params, defaultCodec())
}

func newRequest(id any, method string, params any, codec Codec) (*Request, error) {
	if method == "" {
		return nil, ErrInvalidRequest("method must be a non-empty string")
	}
	id, err := checkID(id)
	if err != nil {
		return nil, err
	}
	raw, err := encodeParams(params, codec)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: method,
		Params: raw,
		Extra:  map[string]any{},
		id:     id,
	}, nil
}

// ID returns the request id: a string, an int64, or nil for a
// notification.
func (r *Request) ID() any { return r.id }

// IsNotification reports whether the request has no id.
func (r *Request) IsNotification() bool { return r.id == nil }

// Response is a single JSON-RPC response envelope. Exactly one of
// Result and Err is meaningful; Err non-nil wins.
type Response struct {
	ID     any
	Result any
	Err    *Error

	// Extra mirrors Request.Extra: a mutable side-channel, never
	// serialized.
	Extra map[string]any
}

// NewResponse builds a success response echoing the given id.
func NewResponse(id any, result any) *Response {
	return &Response{ID: id, Result: result, Extra: map[string]any{}}
}

// NewErrorResponse builds an error response echoing the given id
// (nil when the originating id could not be determined).
func NewErrorResponse(id any, err *Error) *Response {
	return &Response{ID: id, Err: err, Extra: map[string]any{}}
}

// Wire shapes. Ids and params stay raw so that absence, null, and
// every legal value survive round-trips untouched.

type wireRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id,omitzero"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitzero"`
}

type wireResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id"`
	Result  jsontext.Value `json:"result,omitzero"`
	Error   *wireError     `json:"error,omitzero"`
}

type wireError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    jsontext.Value `json:"data,omitzero"`
}

// checkID normalizes a caller-supplied id. Integral values collapse to
// int64 so that pending-table keys and wire echoes are stable.
func checkID(id any) (any, error) {
	switch v := id.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int64(v), nil
		}
		return v, nil
	default:
		return nil, ErrInvalidRequest(fmt.Sprintf("id must be a string or an integer, got %T", id))
	}
}

// decodeID parses a raw id value. A missing field (nil raw) and an
// explicit null both come back as nil.
func decodeID(raw jsontext.Value, codec Codec) (any, error) {
	if len(raw) == 0 || bytes.Equal(raw, jsontext.Value("null")) {
		return nil, nil
	}
	var v any
	if err := codec.unmarshal(raw, &v); err != nil {
		return nil, err
	}
	id, err := checkID(v)
	if err != nil {
		return nil, ErrInvalidRequest("id must be a string or a number")
	}
	return id, nil
}

func encodeID(id any, codec Codec) (jsontext.Value, error) {
	if id == nil {
		return jsontext.Value("null"), nil
	}
	return codec.marshal(id)
}

func encodeParams(params any, codec Codec) (jsontext.Value, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case jsontext.Value:
		return v, nil
	default:
		raw, err := codec.marshal(params)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return raw, nil
	}
}

// firstByte returns the first non-whitespace byte of data, or 0.
func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}

// splitBatch splits an inbound payload into its raw elements. For a
// single object it returns one element and batch=false. The returned
// *Error is terminal: -32700 for undecodable payloads, -32600 for an
// empty batch or a non-object, non-array payload.
func splitBatch(data []byte, codec Codec) (elems []jsontext.Value, batch bool, perr *Error) {
	switch firstByte(data) {
	case '[':
		if err := codec.unmarshal(data, &elems); err != nil {
			return nil, true, ErrParse(err.Error())
		}
		if len(elems) == 0 {
			return nil, true, ErrInvalidRequest("an empty batch is not allowed")
		}
		return elems, true, nil
	case '{':
		var elem jsontext.Value
		if err := codec.unmarshal(data, &elem); err != nil {
			return nil, false, ErrParse(err.Error())
		}
		return []jsontext.Value{elem}, false, nil
	case 0:
		return nil, false, ErrParse("empty payload")
	default:
		// Valid JSON scalars and malformed input alike cannot be a
		// request envelope.
		var v any
		if err := codec.unmarshal(data, &v); err != nil {
			return nil, false, ErrParse(err.Error())
		}
		return nil, false, ErrInvalidRequest("a request must be an object or an array")
	}
}

// recoverID makes a best effort to extract the id out of a raw batch
// element that failed validation, so the error slot can echo it.
func recoverID(elem jsontext.Value, codec Codec) any {
	var probe struct {
		ID jsontext.Value `json:"id"`
	}
	if err := codec.unmarshal(elem, &probe); err != nil {
		return nil
	}
	id, err := decodeID(probe.ID, codec)
	if err != nil {
		return nil
	}
	return id
}

// decodeRequest parses one raw batch element into a Request. A failure
// yields a pre-baked invalid-request response for that slot instead,
// with the id echoed when it could be recovered.
func decodeRequest(elem jsontext.Value, codec Codec) (*Request, *Response) {
	if firstByte(elem) != '{' {
		return nil, NewErrorResponse(nil, ErrInvalidRequest("a request must be an object"))
	}
	var w wireRequest
	if err := codec.unmarshal(elem, &w); err != nil {
		return nil, NewErrorResponse(recoverID(elem, codec), ErrInvalidRequest(err.Error()))
	}
	id, err := decodeID(w.ID, codec)
	if err != nil {
		return nil, NewErrorResponse(nil, asError(err))
	}
	if w.JSONRPC != Version {
		return nil, NewErrorResponse(id, ErrInvalidRequest(`"jsonrpc" must be exactly "2.0"`))
	}
	if w.Method == "" {
		return nil, NewErrorResponse(id, ErrInvalidRequest(`"method" must be a non-empty string`))
	}
	return &Request{
		Method: w.Method,
		Params: w.Params,
		Extra:  map[string]any{},
		id:     id,
	}, nil
}

// EncodeRequest serializes requests to their wire form: a single
// object for one request, an array otherwise. forceBatch keeps the
// array form even for a one-element batch.
func EncodeRequest(reqs []*Request, forceBatch bool) ([]byte, error) {
	return encodeRequests(reqs, forceBatch, defaultCodec())
}

func encodeRequests(reqs []*Request, forceBatch bool, codec Codec) ([]byte, error) {
	wires := make([]wireRequest, 0, len(reqs))
	for _, r := range reqs {
		w := wireRequest{
			JSONRPC: Version,
			Method:  r.Method,
			Params:  r.Params,
		}
		if !r.IsNotification() {
			id, err := encodeID(r.id, codec)
			if err != nil {
				return nil, err
			}
			w.ID = id
		}
		wires = append(wires, w)
	}
	if len(wires) == 1 && !forceBatch {
		return codec.marshal(wires[0])
	}
	return codec.marshal(wires)
}

func encodeResponse(r *Response, codec Codec) (wireResponse, error) {
	id, err := encodeID(r.ID, codec)
	if err != nil {
		return wireResponse{}, err
	}
	w := wireResponse{JSONRPC: Version, ID: id}
	if r.Err != nil {
		we := &wireError{Code: r.Err.Code, Message: r.Err.Message}
		if r.Err.Data != nil {
			raw, err := codec.marshal(r.Err.Data)
			if err != nil {
				return wireResponse{}, err
			}
			we.Data = raw
		}
		w.Error = we
		return w, nil
	}
	raw, err := codec.marshal(r.Result)
	if err != nil {
		// An unencodable result must not take the whole payload down;
		// the slot degrades to an internal error.
		return encodeResponse(NewErrorResponse(r.ID, ErrInternal("result serialization failed", false)), codec)
	}
	w.Result = raw
	return w, nil
}

// encodeResponses serializes the dispatch output. A nil, nil return
// means there is nothing to put on the wire (every inbound request
// was a notification).
func encodeResponses(resps []*Response, batch bool, codec Codec) ([]byte, error) {
	if len(resps) == 0 {
		return nil, nil
	}
	if !batch {
		w, err := encodeResponse(resps[0], codec)
		if err != nil {
			return nil, err
		}
		return codec.marshal(w)
	}
	wires := make([]wireResponse, 0, len(resps))
	for _, r := range resps {
		w, err := encodeResponse(r, codec)
		if err != nil {
			return nil, err
		}
		wires = append(wires, w)
	}
	return codec.marshal(wires)
}

// decodeResponse parses one raw response element.
func decodeResponse(elem jsontext.Value, codec Codec) (*Response, error) {
	if firstByte(elem) != '{' {
		return nil, ErrInvalidRequest("a response must be an object")
	}
	var w wireResponse
	if err := codec.unmarshal(elem, &w); err != nil {
		return nil, ErrInvalidRequest(err.Error())
	}
	if w.JSONRPC != Version {
		return nil, ErrInvalidRequest(`"jsonrpc" must be exactly "2.0"`)
	}
	if len(w.Result) == 0 && w.Error == nil {
		return nil, ErrInvalidRequest(`a response needs "result" or "error"`)
	}
	id, err := decodeID(w.ID, codec)
	if err != nil {
		return nil, asError(err)
	}
	resp := &Response{ID: id, Extra: map[string]any{}}
	if w.Error != nil {
		e := &Error{Code: w.Error.Code, Message: w.Error.Message}
		if len(w.Error.Data) > 0 {
			if err := codec.unmarshal(w.Error.Data, &e.Data); err != nil {
				return nil, ErrInvalidRequest(err.Error())
			}
		}
		resp.Err = e
		return resp, nil
	}
	if err := codec.unmarshal(w.Result, &resp.Result); err != nil {
		return nil, ErrInvalidRequest(err.Error())
	}
	return resp, nil
}

// decodeResponses parses an inbound response payload, single or batch.
func decodeResponses(data []byte, codec Codec) ([]*Response, bool, error) {
	elems, batch, perr := splitBatch(data, codec)
	if perr != nil {
		return nil, batch, perr
	}
	resps := make([]*Response, 0, len(elems))
	for _, elem := range elems {
		resp, err := decodeResponse(elem, codec)
		if err != nil {
			return nil, batch, err
		}
		resps = append(resps, resp)
	}
	return resps, batch, nil
}
