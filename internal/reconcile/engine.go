package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/event"
	"github.com/paydrift/paydrift/internal/logging"
	"github.com/paydrift/paydrift/internal/notify"
	"github.com/paydrift/paydrift/internal/plan"
	"github.com/paydrift/paydrift/internal/provider"
	"github.com/paydrift/paydrift/internal/telemetry"
	"github.com/paydrift/paydrift/internal/tenant"
	"github.com/paydrift/paydrift/internal/traces"
)

// notificationThrottle bounds how often a dunning email may be re-sent to
// the same customer.
const notificationThrottle = 24 * time.Hour

// Pass outcomes, also used as metric label values.
const (
	OutcomeApplied        = "applied"
	OutcomeNoPending      = "no_pending"
	OutcomeNoSubscription = "no_subscription"
	OutcomeLockTimeout    = "lock_timeout"
	OutcomeError          = "error"
)

// Inbound is one raw provider event handed to Ingest by the webhook
// handler. The payload is stored verbatim; no state is derived from it.
type Inbound struct {
	ProviderEventID string
	EventType       string
	CustomerID      string
	SubscriptionID  string
	Payload         json.RawMessage
}

// Engine coordinates both phases of reconciliation.
type Engine struct {
	store    Store
	events   event.Store
	provider provider.Client
	notifier notify.Notifier
	emitter  telemetry.Emitter
	logger   *slog.Logger

	workers  int
	triggers chan string

	// now is swappable for tests.
	now func() time.Time

	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of trigger-queue workers.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithTriggerBuffer sets the trigger queue capacity.
func WithTriggerBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.triggers = make(chan string, n)
		}
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a reconciliation engine.
func NewEngine(store Store, events event.Store, pc provider.Client, notifier notify.Notifier, emitter telemetry.Emitter, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		events:   events,
		provider: pc,
		notifier: notifier,
		emitter:  emitter,
		logger:   logger,
		workers:  4,
		triggers: make(chan string, 256),
		now:      time.Now,
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest is phase 1: record the event idempotently and, when it is new,
// enqueue a reconciliation trigger for the customer. Duplicates are
// acknowledged without re-triggering. Returns whether the event was new.
func (e *Engine) Ingest(ctx context.Context, in Inbound) (bool, error) {
	kind := event.KindFromType(in.EventType)
	now := e.now().UTC()

	isNew, err := e.events.Record(ctx, &event.InboundEvent{
		ProviderEventID: in.ProviderEventID,
		EventType:       in.EventType,
		Kind:            kind,
		CustomerID:      in.CustomerID,
		SubscriptionID:  in.SubscriptionID,
		RawPayload:      in.Payload,
		ReceivedAt:      now,
	})
	if err != nil {
		return false, fmt.Errorf("record inbound event: %w", err)
	}
	eventsIngested.WithLabelValues(string(kind), strconv.FormatBool(!isNew)).Inc()

	if !isNew {
		logging.L(ctx).Debug("duplicate event delivery ignored",
			"event_id", in.ProviderEventID, "event_type", in.EventType)
		return false, nil
	}
	if in.CustomerID != "" {
		e.Trigger(ctx, in.CustomerID)
	}
	return true, nil
}

// Trigger enqueues a reconciliation pass for the customer. When the queue
// is full the trigger is dropped; the event is durably pending, so the
// sweeper will pick the customer up on its next run.
func (e *Engine) Trigger(ctx context.Context, customerID string) {
	select {
	case e.triggers <- customerID:
	default:
		triggerDropped.Inc()
		logging.L(ctx).Warn("trigger queue full, deferring to sweeper", "customer_id", customerID)
	}
}

// Run starts the worker pool consuming the trigger queue. It blocks until
// ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.wg.Wait()
}

// Stop shuts the worker pool down. Safe to call more than once.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stopped) })
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopped:
			return
		case customerID := <-e.triggers:
			if err := e.Reconcile(ctx, customerID); err != nil {
				e.logger.Warn("reconciliation pass failed",
					"customer_id", customerID, "error", err)
			}
		}
	}
}

// Reconcile is phase 2: one full pass for a customer. Safe to call at any
// time for any customer — a pass with nothing pending is a no-op. Errors
// are retryable: the pass rolled back, events stay pending, and the
// sweeper or a later trigger retries.
func (e *Engine) Reconcile(ctx context.Context, customerID string) (err error) {
	ctx, span := traces.StartSpan(ctx, "reconcile.pass", traces.CustomerID(customerID))
	defer span.End()

	start := e.now()
	outcome := OutcomeError
	defer func() {
		passesTotal.WithLabelValues(outcome).Inc()
		passDuration.Observe(e.now().Sub(start).Seconds())
	}()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) {
			e.logger.Debug("rollback after reconciliation pass", "error", rbErr)
		}
	}()

	sub, err := tx.SubscriptionForCustomer(ctx, customerID)
	if errors.Is(err, billing.ErrNotFound) {
		// Events for customers we have never linked stay pending until a
		// subscription references the customer. Nothing to do yet.
		outcome = OutcomeNoSubscription
		logging.L(ctx).Debug("no subscription for customer, leaving events pending", "customer_id", customerID)
		return nil
	}
	if errors.Is(err, ErrLockTimeout) {
		outcome = OutcomeLockTimeout
		return fmt.Errorf("customer %s: %w", customerID, ErrLockTimeout)
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	pending, err := tx.PendingEvents(ctx, customerID)
	if err != nil {
		return fmt.Errorf("load pending events: %w", err)
	}
	if len(pending) == 0 {
		outcome = OutcomeNoPending
		return nil
	}
	span.SetAttributes(traces.BatchSize(len(pending)), traces.TenantID(sub.TenantID))

	now := e.now().UTC()

	// Re-pull canonical state. Webhook payloads are never trusted for
	// final state; only the batch's distinct kinds drive side effects.
	snap, err := e.provider.SyncSubscriptionState(ctx, customerID)
	switch {
	case errors.Is(err, provider.ErrNoSubscription):
		sub.ResetToFree(now)
	case err != nil:
		return fmt.Errorf("provider sync: %w", err)
	default:
		if !plan.Valid(snap.Plan) {
			return fmt.Errorf("provider sync: unmapped plan for customer %s", customerID)
		}
		sub.ApplySnapshot(snap, now)
	}

	info, err := e.provider.GetBillingInfo(ctx, customerID)
	if err != nil {
		return fmt.Errorf("provider billing info: %w", err)
	}
	// Mirror the provider exactly: a nil result clears details that no
	// longer exist there (e.g. the customer was deleted).
	sub.BillingInfo = info

	tn, err := tx.Tenant(ctx, sub.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", sub.TenantID, err)
	}

	kinds := event.KindSet(pending)
	buf := &telemetry.Buffer{}
	e.applySideEffects(ctx, sub, tn, kinds, buf, now)

	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	if err := tx.SaveTenantState(ctx, tn.ID, tn.State); err != nil {
		return fmt.Errorf("save tenant state: %w", err)
	}

	ids := make([]string, len(pending))
	for i, ev := range pending {
		ids[i] = ev.ProviderEventID
	}
	if err := tx.MarkProcessed(ctx, ids, now, sub.ID, tn.ID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation: %w", err)
	}

	outcome = OutcomeApplied
	for _, ev := range pending {
		eventsProcessed.WithLabelValues(string(ev.Kind)).Inc()
	}
	logging.L(ctx).Info("reconciliation pass applied",
		"customer_id", customerID,
		"tenant_id", tn.ID,
		"events", len(pending),
		"plan", string(sub.Plan),
		"tenant_state", string(tn.State),
	)

	// Telemetry is at-least-once and must never abort a pass, so it is
	// buffered during the transaction and emitted only after commit.
	buf.Drain(ctx, e.emitter)
	return nil
}

// applySideEffects runs the batch's side effects in fixed precedence,
// independent of delivery order. Each effect is guarded by a persisted
// marker on the aggregate so a redelivered batch cannot repeat it.
func (e *Engine) applySideEffects(ctx context.Context, sub *billing.Subscription, tn *tenant.Tenant, kinds map[event.Kind]bool, buf *telemetry.Buffer, now time.Time) {
	props := map[string]any{
		"tenant_id":   tn.ID,
		"customer_id": sub.ProviderCustomerID,
		"plan":        string(sub.Plan),
	}

	if kinds[event.KindPaymentSucceeded] {
		if sub.InFailureState() {
			sub.FirstPaymentFailedAt = nil
			sub.LastNotificationSentAt = nil
			e.sendPaymentRecoveredEmail(ctx, tn, sub)
			buf.Queue(telemetry.EventPaymentRecovered, props)
		}
		// A settled payment is a genuine reactivation signal.
		tn.Transition(tenant.StateActive, now)
	}

	if kinds[event.KindPaymentFailed] {
		if !sub.InFailureState() {
			sub.FirstPaymentFailedAt = &now
			buf.Queue(telemetry.EventPaymentFailed, props)
		}
		e.sendPaymentFailedEmail(ctx, tn, sub, now)
		if tn.State == tenant.StateActive {
			tn.Transition(tenant.StatePastDue, now)
		}
	}

	if kinds[event.KindDisputeCreated] {
		if sub.DisputedAt == nil {
			sub.DisputedAt = &now
			e.sendDisputeEmail(ctx, tn, sub)
			buf.Queue(telemetry.EventDisputeCreated, props)
		}
	}
	if kinds[event.KindDisputeClosed] {
		if sub.DisputedAt != nil {
			sub.DisputedAt = nil
			buf.Queue(telemetry.EventDisputeResolved, props)
		}
	}

	if kinds[event.KindRefund] {
		if sub.RefundedAt == nil {
			sub.RefundedAt = &now
			buf.Queue(telemetry.EventPaymentRefunded, props)
		}
	}

	if kinds[event.KindCheckoutCompleted] {
		if tn.Transition(tenant.StateActive, now) {
			buf.Queue(telemetry.EventSubscriptionCreated, props)
		}
	}

	// A deleted customer always suspends, even when a subscription
	// deletion in the same batch would read as voluntary.
	if kinds[event.KindCustomerDeleted] {
		if tn.Transition(tenant.StateSuspended, now) {
			buf.Queue(telemetry.EventSubscriptionSuspended, props)
		}
		return
	}

	if kinds[event.KindSubscriptionDeleted] {
		// An already-suspended tenant stays suspended: a late or
		// redelivered deletion is never a reactivation signal.
		if tn.Suspended() {
			return
		}
		if sub.VoluntaryCancellation() {
			// User chose to leave: downgrade without punishing access.
			tn.Transition(tenant.StateActive, now)
		} else if tn.Transition(tenant.StateSuspended, now) {
			buf.Queue(telemetry.EventSubscriptionSuspended, props)
		}
	}
}

func (e *Engine) sendPaymentFailedEmail(ctx context.Context, tn *tenant.Tenant, sub *billing.Subscription, now time.Time) {
	if sub.LastNotificationSentAt != nil && now.Sub(*sub.LastNotificationSentAt) < notificationThrottle {
		return
	}
	subject := "Action required: your payment failed"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>We could not collect the latest payment for your %s plan. "+
			"Please update your payment method to keep your workspace active.</p>",
		tn.Name, sub.Plan,
	)
	if err := e.notifier.Send(ctx, tn.BillingEmail, subject, body); err != nil {
		// Email failure must not fail the pass; the throttle marker stays
		// unset so the next pass retries.
		logging.L(ctx).Warn("payment-failed email not sent",
			"tenant_id", tn.ID, "error", err)
		return
	}
	sub.LastNotificationSentAt = &now
	emailsSent.WithLabelValues("payment_failed").Inc()
}

func (e *Engine) sendPaymentRecoveredEmail(ctx context.Context, tn *tenant.Tenant, sub *billing.Subscription) {
	subject := "Your payment went through"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Good news: your latest payment for the %s plan succeeded "+
			"and your account is in good standing again.</p>",
		tn.Name, sub.Plan,
	)
	if err := e.notifier.Send(ctx, tn.BillingEmail, subject, body); err != nil {
		logging.L(ctx).Warn("payment-recovered email not sent", "tenant_id", tn.ID, "error", err)
		return
	}
	emailsSent.WithLabelValues("payment_recovered").Inc()
}

func (e *Engine) sendDisputeEmail(ctx context.Context, tn *tenant.Tenant, sub *billing.Subscription) {
	subject := "A payment on your account was disputed"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>A charge for your %s plan was disputed with the card issuer. "+
			"We will reach out if we need anything from you.</p>",
		tn.Name, sub.Plan,
	)
	if err := e.notifier.Send(ctx, tn.BillingEmail, subject, body); err != nil {
		logging.L(ctx).Warn("dispute email not sent", "tenant_id", tn.ID, "error", err)
		return
	}
	emailsSent.WithLabelValues("dispute_created").Inc()
}
