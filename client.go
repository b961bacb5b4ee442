package jrpc

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// Caller is the transport-independent client surface. Both the HTTP
// and the WebSocket client implement it.
type Caller interface {
	// Call sends a request and returns its result, or the carried
	// *Error as the error.
	Call(ctx context.Context, method string, params any) (any, error)

	// Notify sends a request without an id: fire-and-forget, no wait.
	Notify(ctx context.Context, method string, params any) error

	// Batch sends every call in one payload and returns one result
	// slot per call, in call order, reconciled by id.
	Batch(ctx context.Context, calls []BatchCall) ([]BatchResult, error)

	// BatchNotify sends an all-notification batch; no wait.
	BatchNotify(ctx context.Context, calls []BatchCall) error
}

// BatchCall describes one element of a client batch: a method name
// with optional params. A bare name is a call with no params, not a
// notification.
type BatchCall struct {
	Method string
	Params any
}

// BatchResult is one slot of a batch outcome. Err carries the
// server-side error for that slot, if any.
type BatchResult struct {
	Result any
	Err    *Error
}

// DefaultCallTimeout bounds the wait for a WebSocket response.
const DefaultCallTimeout = 5 * time.Second

// clientConfig is shared between the two client transports; options
// that do not apply to a transport are ignored by it.
type clientConfig struct {
	codec      Codec
	idgen      func() any
	timeout    time.Duration
	log        zerolog.Logger
	httpClient *http.Client
	dialer     *websocket.Dialer
	inbound    func(ctx context.Context, frame []byte)
}

func newClientConfig(opts []ClientOption) clientConfig {
	cfg := clientConfig{
		idgen:   func() any { return xid.New().String() },
		timeout: DefaultCallTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ClientOption configures a client at construction.
type ClientOption func(*clientConfig)

// WithClientCodec replaces the JSON codec.
func WithClientCodec(c Codec) ClientOption {
	return func(cfg *clientConfig) { cfg.codec = c }
}

// WithIDGenerator replaces the request id generator (default: xid
// strings). The generator must never repeat an id while one is
// pending; a monotonic counter also qualifies.
func WithIDGenerator(f func() any) ClientOption {
	return func(cfg *clientConfig) { cfg.idgen = f }
}

// WithCallTimeout bounds the wait for a WebSocket response.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(cfg *clientConfig) { cfg.log = log }
}

// WithHTTPClient sets the underlying *http.Client (HTTP transport).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(cfg *clientConfig) { cfg.httpClient = hc }
}

// WithDialer sets the WebSocket dialer (WebSocket transport).
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(cfg *clientConfig) { cfg.dialer = d }
}

// WithInboundHandler installs a hook for inbound frames that carry
// requests (server-initiated calls) rather than responses. Without it
// such frames are logged and dropped. WebSocket transport only.
func WithInboundHandler(f func(ctx context.Context, frame []byte)) ClientOption {
	return func(cfg *clientConfig) { cfg.inbound = f }
}

// buildBatch turns batch call descriptions into request envelopes.
func buildBatch(calls []BatchCall, notify bool, cfg clientConfig) ([]*Request, error) {
	if len(calls) == 0 {
		return nil, ErrInvalidRequest("an empty batch is not allowed")
	}
	reqs := make([]*Request, 0, len(calls))
	for _, call := range calls {
		var id any
		if !notify {
			id = cfg.idgen()
		}
		req, err := newRequest(id, call.Method, call.Params, cfg.codec)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// collectBatchResults reconciles a batch response with its batch
// request: responses are matched by id and returned in call order.
// Irreconcilable responses raise *UnlinkedResultsError, two responses
// for one id *DuplicatedResultsError.
func collectBatchResults(reqs []*Request, resps []*Response) ([]BatchResult, error) {
	byID := make(map[any]*Response, len(resps))
	orphans := 0
	for _, resp := range resps {
		if resp.ID == nil {
			orphans++
			continue
		}
		if _, dup := byID[resp.ID]; dup {
			return nil, &DuplicatedResultsError{ID: resp.ID}
		}
		byID[resp.ID] = resp
	}

	results := make([]BatchResult, 0, len(reqs))
	var missing []any
	for _, req := range reqs {
		resp, ok := byID[req.id]
		if !ok {
			missing = append(missing, req.id)
			results = append(results, BatchResult{})
			continue
		}
		delete(byID, req.id)
		results = append(results, BatchResult{Result: resp.Result, Err: resp.Err})
	}
	orphans += len(byID)
	if len(missing) > 0 || orphans > 0 {
		return nil, &UnlinkedResultsError{Missing: missing, Orphans: orphans}
	}
	return results, nil
}
