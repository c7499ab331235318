package eventbus

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagexd08/autofi-core/domain/event"
)

func TestWebSocketBridge_ForwardsMatchingEvent(t *testing.T) {
	bus := New(nil, nil)
	bridge := NewWebSocketBridge(bus)

	server := httptest.NewServer(bridge)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?type=" + string(event.JobQueued)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// give the server goroutine a moment to register the subscription
	// before publishing, matching Subscribe's synchronous registration.
	time.Sleep(20 * time.Millisecond)

	ctx := context.Background()
	bus.Publish(ctx, event.New(event.JobQueued, map[string]any{"job_id": "j-1"}))
	bus.Publish(ctx, event.New(event.JobFailed, map[string]any{"job_id": "j-2"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var got wireEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Type != string(event.JobQueued) {
		t.Errorf("Type = %q, want %q (the non-matching JobFailed event must not be forwarded)", got.Type, event.JobQueued)
	}
	if got.Payload["job_id"] != "j-1" {
		t.Errorf("Payload[job_id] = %v, want j-1", got.Payload["job_id"])
	}
}
