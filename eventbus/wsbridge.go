package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagexd08/autofi-core/domain/event"
)

// WebSocketBridge is the reference external-push adapter the Event Bus
// spec names as an example subscriber ("e.g. websocket clients"): it
// upgrades an incoming HTTP connection and forwards every Bus event
// matching the request's filters as a JSON frame.
type WebSocketBridge struct {
	bus      *Bus
	upgrader websocket.Upgrader
}

// NewWebSocketBridge builds a bridge over bus. CheckOrigin is left to the
// caller's own reverse proxy / auth layer (HTTP authN/authZ policy is out
// of scope for this core, spec.md §1).
func NewWebSocketBridge(bus *Bus) *WebSocketBridge {
	return &WebSocketBridge{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// writeWait bounds how long a single frame write may block before the
// connection is considered dead.
const writeWait = 10 * time.Second

// pingInterval keeps intermediate proxies from closing an idle connection.
const pingInterval = 30 * time.Second

// wireEvent is the JSON frame shape sent to a connected client.
type wireEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// ServeHTTP upgrades the connection, subscribes to the bus with a single
// filter (type=query param "type", default wildcard; jsonpath=query param
// "jsonpath"), and pumps events until the client disconnects, a write
// fails, or the bus subscription is closed. A stalled subscription does not
// end the pump.
func (b *WebSocketBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	filter := Filter{Type: event.Wildcard}
	if t := r.URL.Query().Get("type"); t != "" {
		filter.Type = t
	}
	filter.JSONPath = r.URL.Query().Get("jsonpath")

	id, ch := b.bus.Subscribe(filter)
	defer b.bus.Unsubscribe(id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go b.readPump(conn, cancel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := b.writeEvent(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *WebSocketBridge) writeEvent(conn *websocket.Conn, e event.Event) error {
	frame, err := json.Marshal(wireEvent{Type: string(e.Type), Timestamp: e.Timestamp, Payload: e.Payload})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// readPump discards any client-sent frames (this bridge is push-only) and
// cancels ctx once the connection drops, so ServeHTTP's pump loop exits
// promptly instead of waiting out a stalled subscriber.
func (b *WebSocketBridge) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
