package jrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPClient issues JSON-RPC calls over stateless HTTP POST exchanges.
// The reply to each POST is the response payload; no connection state
// or response correlation is needed.
type HTTPClient struct {
	url string
	cfg clientConfig
}

var _ Caller = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given endpoint URL.
func NewHTTPClient(url string, opts ...ClientOption) *HTTPClient {
	cfg := newClientConfig(opts)
	if cfg.httpClient == nil {
		cfg.httpClient = http.DefaultClient
	}
	return &HTTPClient{url: url, cfg: cfg}
}

// Call implements Caller.
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (any, error) {
	req, err := newRequest(c.cfg.idgen(), method, params, c.cfg.codec)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, []*Request{req}, false)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrParse("empty response body")
	}
	resps, batch, err := decodeResponses(body, c.cfg.codec)
	if err != nil {
		return nil, err
	}
	if batch || len(resps) != 1 {
		return nil, &UnlinkedResultsError{Orphans: len(resps)}
	}
	resp := resps[0]
	if resp.ID != req.id {
		return nil, &UnlinkedResultsError{Missing: []any{req.id}, Orphans: 1}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Result, nil
}

// Notify implements Caller. The server sends nothing back for a
// notification; the reply body is discarded.
func (c *HTTPClient) Notify(ctx context.Context, method string, params any) error {
	req, err := newRequest(nil, method, params, c.cfg.codec)
	if err != nil {
		return err
	}
	_, err = c.post(ctx, []*Request{req}, false)
	return err
}

// Batch implements Caller.
func (c *HTTPClient) Batch(ctx context.Context, calls []BatchCall) ([]BatchResult, error) {
	reqs, err := buildBatch(calls, false, c.cfg)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, reqs, true)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrParse("empty batch response body")
	}
	resps, _, err := decodeResponses(body, c.cfg.codec)
	if err != nil {
		return nil, err
	}
	return collectBatchResults(reqs, resps)
}

// BatchNotify implements Caller.
func (c *HTTPClient) BatchNotify(ctx context.Context, calls []BatchCall) error {
	reqs, err := buildBatch(calls, true, c.cfg)
	if err != nil {
		return err
	}
	_, err = c.post(ctx, reqs, true)
	return err
}

func (c *HTTPClient) post(ctx context.Context, reqs []*Request, forceBatch bool) ([]byte, error) {
	payload, err := encodeRequests(reqs, forceBatch, c.cfg.codec)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.cfg.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer drainBody(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jrpc: unexpected HTTP status %s", httpResp.Status)
	}
	return io.ReadAll(httpResp.Body)
}

// drainBody reads a response body to the end before closing it, so
// the underlying connection can be reused.
func drainBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
