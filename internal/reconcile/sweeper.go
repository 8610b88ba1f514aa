package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paydrift/paydrift/internal/event"
)

// Sweeper periodically re-triggers reconciliation for every customer that
// still has pending events. It is the safety net for dropped triggers,
// crashed passes, and events that arrived before the customer was linked.
type Sweeper struct {
	engine   *Engine
	events   event.Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper over the engine's event store.
func NewSweeper(engine *Engine, events event.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Sweeper{
		engine:   engine,
		events:   events,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the periodic sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in reconciliation sweeper", "panic", fmt.Sprint(r))
		}
	}()

	if err := s.Sweep(ctx); err != nil {
		s.logger.Warn("sweep failed", "error", err)
	}
}

// Sweep runs one pass for every customer with pending events, inline on
// the caller's goroutine. Pass failures are logged and do not stop the
// sweep; the events stay pending for the next run.
func (s *Sweeper) Sweep(ctx context.Context) error {
	sweepsTotal.Inc()

	customers, err := s.events.PendingCustomers(ctx)
	if err != nil {
		return fmt.Errorf("list pending customers: %w", err)
	}
	if len(customers) == 0 {
		return nil
	}
	s.logger.Info("sweeping customers with pending events", "customers", len(customers))

	for _, customerID := range customers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.engine.Reconcile(ctx, customerID); err != nil {
			s.logger.Warn("sweep pass failed", "customer_id", customerID, "error", err)
		}
	}
	return nil
}
