package jrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"
)

// WSClient issues JSON-RPC calls over one persistent WebSocket
// connection. A background receive loop demultiplexes inbound frames:
// each response is matched against the pending-call table purely by
// id, so out-of-order and interleaved arrival is fine.
//
// Batches use the same contract as WSServer: the whole batch goes out
// as one frame and comes back as one aggregated array frame.
type WSClient struct {
	url string
	cfg clientConfig

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[any]*pendingCall
	closed  bool

	done chan struct{}
}

var _ Caller = (*WSClient)(nil)

// pendingCall is one in-flight call (or batch) awaiting its frame.
// For a batch the same entry is registered under every id, and the
// first matching frame resolves all of them.
type pendingCall struct {
	ids []any
	ch  chan pendingResult
}

type pendingResult struct {
	frame []byte
	err   error
}

// NewWSClient creates a client for the given WebSocket URL. Call
// Connect before use.
func NewWSClient(url string, opts ...ClientOption) *WSClient {
	cfg := newClientConfig(opts)
	if cfg.dialer == nil {
		cfg.dialer = websocket.DefaultDialer
	}
	return &WSClient{
		url:     url,
		cfg:     cfg,
		pending: make(map[any]*pendingCall),
	}
}

// Connect establishes the duplex stream and starts the receive loop.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, resp, err := c.cfg.dialer.DialContext(ctx, c.url, nil)
	if resp != nil {
		drainBody(resp.Body)
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn, c.done)
	return nil
}

// Disconnect stops the receive loop and fails every pending call with
// ErrConnectionClosed; no entry is left hanging.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	err := conn.Close()
	c.failAll(ErrConnectionClosed)
	if done != nil {
		<-done
	}
	return err
}

// Call implements Caller. It registers a pending-table entry under a
// fresh id, sends the request, and suspends until the entry is
// fulfilled, the timeout elapses, or ctx is done.
func (c *WSClient) Call(ctx context.Context, method string, params any) (any, error) {
	req, err := newRequest(c.cfg.idgen(), method, params, c.cfg.codec)
	if err != nil {
		return nil, err
	}
	pc, err := c.register(req.id)
	if err != nil {
		return nil, err
	}
	if err := c.send([]*Request{req}, false); err != nil {
		c.unregister(pc)
		return nil, err
	}
	frame, err := c.wait(ctx, pc)
	if err != nil {
		return nil, err
	}
	resps, batch, err := decodeResponses(frame, c.cfg.codec)
	if err != nil {
		return nil, err
	}
	if batch || len(resps) != 1 || resps[0].ID != req.id {
		return nil, &UnlinkedResultsError{Missing: []any{req.id}, Orphans: len(resps)}
	}
	if resps[0].Err != nil {
		return nil, resps[0].Err
	}
	return resps[0].Result, nil
}

// Notify implements Caller: fire-and-forget, no pending entry.
func (c *WSClient) Notify(ctx context.Context, method string, params any) error {
	req, err := newRequest(nil, method, params, c.cfg.codec)
	if err != nil {
		return err
	}
	return c.send([]*Request{req}, false)
}

// Batch implements Caller.
func (c *WSClient) Batch(ctx context.Context, calls []BatchCall) ([]BatchResult, error) {
	reqs, err := buildBatch(calls, false, c.cfg)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.id)
	}
	pc, err := c.register(ids...)
	if err != nil {
		return nil, err
	}
	if err := c.send(reqs, true); err != nil {
		c.unregister(pc)
		return nil, err
	}
	frame, err := c.wait(ctx, pc)
	if err != nil {
		return nil, err
	}
	resps, _, err := decodeResponses(frame, c.cfg.codec)
	if err != nil {
		return nil, err
	}
	return collectBatchResults(reqs, resps)
}

// BatchNotify implements Caller.
func (c *WSClient) BatchNotify(ctx context.Context, calls []BatchCall) error {
	reqs, err := buildBatch(calls, true, c.cfg)
	if err != nil {
		return err
	}
	return c.send(reqs, true)
}

// register inserts one pending entry under each id. Reusing an id
// while a call for it is pending is a caller error.
func (c *WSClient) register(ids ...any) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, ErrConnectionClosed
	}
	for _, id := range ids {
		if _, exists := c.pending[id]; exists {
			return nil, fmt.Errorf("jrpc: id %v is already pending", id)
		}
	}
	pc := &pendingCall{ids: ids, ch: make(chan pendingResult, 1)}
	for _, id := range ids {
		c.pending[id] = pc
	}
	return pc, nil
}

func (c *WSClient) unregister(pc *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range pc.ids {
		if c.pending[id] == pc {
			delete(c.pending, id)
		}
	}
}

func (c *WSClient) send(reqs []*Request, forceBatch bool) error {
	payload, err := encodeRequests(reqs, forceBatch, c.cfg.codec)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return ErrConnectionClosed
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// wait suspends until the entry is fulfilled or abandoned. On timeout
// or cancellation the entry is removed, so a late frame for it is
// discarded by the receive loop.
func (c *WSClient) wait(ctx context.Context, pc *pendingCall) ([]byte, error) {
	timer := time.NewTimer(c.cfg.timeout)
	defer timer.Stop()

	select {
	case res := <-pc.ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.frame, nil
	case <-ctx.Done():
		c.unregister(pc)
		return nil, ctx.Err()
	case <-timer.C:
		c.unregister(pc)
		return nil, ErrCallTimeout
	}
}

// readLoop demultiplexes inbound frames until the connection closes.
func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.failAll(ErrConnectionClosed)
			return
		}
		c.route(frame)
	}
}

// route resolves one inbound frame: responses fulfill their pending
// entry by id, request frames go to the inbound handler, anything
// else is a protocol anomaly that is reported, not fatal.
func (c *WSClient) route(frame []byte) {
	switch firstByte(frame) {
	case '{':
		var probe struct {
			Method string         `json:"method"`
			ID     jsontext.Value `json:"id"`
		}
		if err := c.cfg.codec.unmarshal(frame, &probe); err != nil {
			c.cfg.log.Warn().Err(err).Msg("undecodable inbound frame dropped")
			return
		}
		if probe.Method != "" {
			c.handleInbound(frame)
			return
		}
		id, err := decodeID(probe.ID, c.cfg.codec)
		if err != nil || id == nil {
			c.cfg.log.Warn().Msg("inbound response without usable id dropped")
			return
		}
		c.fulfill(id, frame)
	case '[':
		var elems []jsontext.Value
		if err := c.cfg.codec.unmarshal(frame, &elems); err != nil || len(elems) == 0 {
			c.cfg.log.Warn().Msg("undecodable inbound batch frame dropped")
			return
		}
		var probe struct {
			Method string `json:"method"`
		}
		if err := c.cfg.codec.unmarshal(elems[0], &probe); err == nil && probe.Method != "" {
			c.handleInbound(frame)
			return
		}
		// An aggregated batch response: any of its ids identifies the
		// shared pending entry.
		for _, elem := range elems {
			if id := recoverID(elem, c.cfg.codec); id != nil {
				if c.fulfill(id, frame) {
					return
				}
			}
		}
		c.cfg.log.Warn().Msg("inbound batch frame matched no pending call")
	default:
		c.cfg.log.Warn().Msg("unexpected inbound frame dropped")
	}
}

// fulfill resolves the pending entry registered under id, removing
// the entry for every id it was registered under.
func (c *WSClient) fulfill(id any, frame []byte) bool {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		for _, pid := range pc.ids {
			delete(c.pending, pid)
		}
	}
	c.mu.Unlock()
	if !ok {
		c.cfg.log.Warn().Interface("id", id).Msg("response for unknown id dropped")
		return false
	}
	pc.ch <- pendingResult{frame: frame}
	return true
}

// failAll resolves every pending entry with err.
func (c *WSClient) failAll(err error) {
	c.mu.Lock()
	calls := make(map[*pendingCall]struct{}, len(c.pending))
	for _, pc := range c.pending {
		calls[pc] = struct{}{}
	}
	c.pending = make(map[any]*pendingCall)
	c.mu.Unlock()

	for pc := range calls {
		select {
		case pc.ch <- pendingResult{err: err}:
		default:
		}
	}
}

func (c *WSClient) handleInbound(frame []byte) {
	if c.cfg.inbound == nil {
		c.cfg.log.Warn().Msg("inbound request frame dropped, no handler installed")
		return
	}
	go c.cfg.inbound(context.Background(), frame)
}
