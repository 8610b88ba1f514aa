// Package telemetry tracks product analytics events emitted by the
// reconciliation engine.
//
// Events are best-effort and at-least-once: the engine buffers them during
// a pass and drains the buffer only after the transaction commits, so a
// crash between commit and drain can duplicate telemetry but never state.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Event names emitted by the engine.
const (
	EventPaymentRecovered      = "billing.payment_recovered"
	EventPaymentFailed         = "billing.payment_failed"
	EventDisputeCreated        = "billing.dispute_created"
	EventDisputeResolved       = "billing.dispute_resolved"
	EventPaymentRefunded       = "billing.payment_refunded"
	EventSubscriptionCreated   = "billing.subscription_created"
	EventSubscriptionSuspended = "billing.subscription_suspended"
)

// Emitter delivers one telemetry event to an analytics sink.
type Emitter interface {
	Track(ctx context.Context, name string, props map[string]any)
}

// queued is one buffered event awaiting commit.
type queued struct {
	name  string
	props map[string]any
}

// Buffer collects events during a reconciliation pass. Not safe for
// concurrent use; each pass owns its own buffer.
type Buffer struct {
	events []queued
}

// Queue adds an event to the buffer.
func (b *Buffer) Queue(name string, props map[string]any) {
	b.events = append(b.events, queued{name: name, props: props})
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Drain delivers all buffered events to the emitter and empties the
// buffer. Call only after the surrounding transaction has committed.
func (b *Buffer) Drain(ctx context.Context, e Emitter) {
	for _, ev := range b.events {
		e.Track(ctx, ev.name, ev.props)
	}
	b.events = nil
}

var trackedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paydrift",
	Subsystem: "telemetry",
	Name:      "events_total",
	Help:      "Total telemetry events tracked by name.",
}, []string{"event"})

func init() {
	prometheus.MustRegister(trackedTotal)
}

// LogEmitter counts events in Prometheus and logs them. It stands in for
// an external analytics sink in deployments that have none.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e *LogEmitter) Track(ctx context.Context, name string, props map[string]any) {
	trackedTotal.WithLabelValues(name).Inc()
	args := make([]any, 0, 2*len(props)+2)
	args = append(args, "event", name)
	for k, v := range props {
		args = append(args, k, v)
	}
	e.Logger.Info("telemetry", args...)
}

// Multi fans one event out to several emitters.
type Multi []Emitter

func (m Multi) Track(ctx context.Context, name string, props map[string]any) {
	for _, e := range m {
		e.Track(ctx, name, props)
	}
}

// Tracked is one event captured by the memory emitter.
type Tracked struct {
	Name  string
	Props map[string]any
}

// MemoryEmitter captures events for tests.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Tracked
}

func (e *MemoryEmitter) Track(ctx context.Context, name string, props map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Tracked{Name: name, Props: props})
}

// All returns a copy of everything captured so far.
func (e *MemoryEmitter) All() []Tracked {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Tracked(nil), e.events...)
}

// Count returns how many captured events carry the given name.
func (e *MemoryEmitter) Count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

var (
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (Multi)(nil)
	_ Emitter = (*MemoryEmitter)(nil)
)
