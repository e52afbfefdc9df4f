// Package monitor implements a debug HTTP/SSE endpoint streaming decoded
// local-layer packets seen by an engine. Entirely diagnostic; never
// required for protocol correctness.
package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/davidb137/spsp/pkg/local"
	"github.com/davidb137/spsp/pkg/message"
)

// historySize bounds the number of packets retained for ServeDump,
// independent of any live SSE subscriber.
const historySize = 512

// Packet is one observed frame, in either direction.
type Packet struct {
	Dir     string `json:"dir"` // "tx" or "rx"
	Type    string `json:"type"`
	Peer    string `json:"peer"`
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	RSSI    int    `json:"rssi"`
}

// Handler serves a live SSE stream of packets observed by an attached
// engine.
type Handler struct {
	mu      sync.Mutex
	subs    map[chan Packet]struct{}
	history []Packet
}

// NewHandler creates a Handler and wires it as engine's packet observer.
func NewHandler(engine *local.Engine) *Handler {
	h := New()
	engine.SetPacketObserver(h.Observe)
	return h
}

// New creates a Handler without wiring it to any engine. Callers that
// need to combine the monitor's observer with other instrumentation
// (e.g. metrics) call Observe directly from their own combined
// engine.SetPacketObserver hook.
func New() *Handler {
	return &Handler{subs: map[chan Packet]struct{}{}}
}

// Observe records one packet for delivery to connected SSE subscribers.
// It implements the local.Engine packet-observer signature.
func (h *Handler) Observe(dir string, msg message.Message, rssi int) {
	p := Packet{
		Dir:     dir,
		Type:    msg.Type.String(),
		Peer:    msg.Addr.String(),
		Topic:   msg.Topic,
		Payload: string(msg.Payload),
		RSSI:    rssi,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, p)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	for c := range h.subs {
		select {
		case c <- p:
		default:
			// Slow subscriber; drop the packet rather than block the
			// engine's dispatch path.
		}
	}
}

// ServeDump writes the retained packet history as gzip-compressed JSON,
// for pulling a snapshot without holding an SSE connection open.
func (h *Handler) ServeDump(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	dump := make([]Packet, len(h.history))
	copy(dump, h.history)
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	gw := gzip.NewWriter(w)
	defer gw.Close()
	json.NewEncoder(gw).Encode(dump)
}

// ServeHTTP streams packets as Server-Sent Events until the request
// context is canceled.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "cannot stream events", http.StatusInternalServerError)
		return
	}

	c := make(chan Packet, 16)
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subs, c)
		h.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "private, no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-c:
			io.WriteString(w, "event: packet\ndata: ")
			enc.Encode(p)
			io.WriteString(w, "\n")
			f.Flush()
		}
	}
}
