package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_BroadcastReachesConnectedClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration goes through the hub loop; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if h.Stats()["connectedClients"].(int) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Track(context.Background(), "billing.payment_failed", map[string]any{"tenant_id": "tnt_1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "billing.payment_failed" {
		t.Errorf("expected payment_failed event, got %s", ev.Type)
	}
	if ev.Data["tenant_id"] != "tnt_1" {
		t.Errorf("props lost: %v", ev.Data)
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := testHub()
	// No Run loop consuming: fill the channel past capacity.
	for i := 0; i < 300; i++ {
		h.Broadcast(&Event{Type: "x", Timestamp: time.Now()})
	}
	// Reaching here without deadlock is the assertion.
}

func TestHub_RejectsUpgradeAfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", resp.StatusCode)
	}
}

func TestHub_Stats(t *testing.T) {
	h := testHub()
	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("expected 0 clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("expected 0 events, got %v", stats["totalEvents"])
	}
}
