package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"vaultd/engine"
	"vaultd/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// eventPayload is the wire form of one engine event.
type eventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	ObservedAt time.Time         `json:"observedAt"`
}

// EventHub fans committed engine events out to websocket subscribers. It
// implements engine.Emitter so it can sit behind engine.Fanout next to the
// journal recorder.
type EventHub struct {
	log     *slog.Logger
	metrics *observability.RPCMetrics

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch chan []byte
}

func NewEventHub(log *slog.Logger) *EventHub {
	if log == nil {
		log = slog.Default()
	}
	return &EventHub{
		log:     log,
		metrics: observability.RPC(),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Emit broadcasts the event to every subscriber. Slow consumers drop
// messages rather than blocking the engine commit path.
func (h *EventHub) Emit(ev engine.Event) {
	if h == nil || ev == nil {
		return
	}
	payload := eventPayload{
		Type:       ev.EventType(),
		Attributes: ev.Attributes(),
		ObservedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("event payload marshal failed", "event", ev.EventType(), "error", err)
		return
	}
	observability.Events().RecordEvent(ev.EventType())
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- data:
		default:
			h.metrics.RecordThrottle("ws_backpressure")
		}
	}
}

// Subscribers reports the number of connected stream clients.
func (h *EventHub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetEventSubscribers(count)
	return sub
}

func (h *EventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	count := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetEventSubscribers(count)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	// CloseRead cancels the context when the peer goes away; the stream
	// is write-only from the server side.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub.ch); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, events <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
