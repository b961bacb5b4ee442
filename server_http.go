package jrpc

import (
	"io"
	"net/http"
	"strings"
)

// HTTPHandler serves JSON-RPC over stateless HTTP request/response
// pairs. Protocol-level failures, parse errors included, are reported
// inside the envelope with status 200; only transport-level misuse
// (wrong verb, wrong content type) maps to an HTTP status.
type HTTPHandler struct {
	dispatcher *Dispatcher
}

// NewHTTPHandler wraps a dispatcher as an http.Handler.
func NewHTTPHandler(d *Dispatcher) *HTTPHandler {
	return &HTTPHandler{dispatcher: d}
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "JSON-RPC requires POST", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	out := h.dispatcher.Handle(r.Context(), body, map[string]any{
		ExtraHTTPRequest: r,
	})
	if out == nil {
		// All notifications: 200 with an empty body.
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
