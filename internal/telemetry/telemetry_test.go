package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http/httptest"
)

func TestBuffer_DrainDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	mem := &MemoryEmitter{}

	buf := &Buffer{}
	buf.Queue(EventPaymentFailed, map[string]any{"tenant_id": "tnt_1"})
	buf.Queue(EventSubscriptionSuspended, nil)

	if buf.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", buf.Len())
	}

	buf.Drain(ctx, mem)

	got := mem.All()
	if len(got) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(got))
	}
	if got[0].Name != EventPaymentFailed || got[1].Name != EventSubscriptionSuspended {
		t.Fatalf("events out of order: %v", got)
	}
	if got[0].Props["tenant_id"] != "tnt_1" {
		t.Fatalf("props lost: %v", got[0].Props)
	}

	// A drained buffer is empty; a second drain delivers nothing.
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buf.Len())
	}
	buf.Drain(ctx, mem)
	if n := len(mem.All()); n != 2 {
		t.Fatalf("second drain delivered events: %d total", n)
	}
}

func TestMulti_FansOut(t *testing.T) {
	a := &MemoryEmitter{}
	b := &MemoryEmitter{}
	m := Multi{a, b}

	m.Track(context.Background(), EventDisputeCreated, nil)

	if a.Count(EventDisputeCreated) != 1 || b.Count(EventDisputeCreated) != 1 {
		t.Fatalf("expected both sinks to receive the event: a=%d b=%d",
			a.Count(EventDisputeCreated), b.Count(EventDisputeCreated))
	}
}

func TestLogEmitter_CountsInPrometheus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &LogEmitter{Logger: logger}

	e.Track(context.Background(), EventPaymentRecovered, map[string]any{"tenant_id": "tnt_1"})

	srv := httptest.NewServer(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "paydrift_telemetry_events_total") {
		t.Error("expected telemetry counter in metrics output")
	}
}
