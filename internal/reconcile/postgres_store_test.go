//go:build integration

package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/event"
	"github.com/paydrift/paydrift/internal/notify"
	"github.com/paydrift/paydrift/internal/plan"
	"github.com/paydrift/paydrift/internal/provider"
	"github.com/paydrift/paydrift/internal/telemetry"
	"github.com/paydrift/paydrift/internal/tenant"
	"github.com/paydrift/paydrift/internal/testutil"
)

func TestPostgresStore_FullPass(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	tenants := tenant.NewPostgresStore(db)
	subs := billing.NewPostgresStore(db)
	events := event.NewPostgresStore(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, tenants.Create(ctx, &tenant.Tenant{
		ID: "tnt_1", Name: "Acme", BillingEmail: "billing@acme.test",
		State: tenant.StateActive, CreatedAt: now, UpdatedAt: now,
	}))
	sub := billing.NewForTenant("sub_1", "tnt_1", now)
	sub.Plan = plan.Standard
	sub.ProviderCustomerID = "cus_1"
	sub.ProviderSubscriptionID = "sub_stripe_1"
	require.NoError(t, subs.Create(ctx, sub))

	prov := &provider.Static{Snapshot: &billing.Snapshot{
		ProviderSubscriptionID: "sub_stripe_1",
		Plan:                   plan.Standard,
	}}
	notifier := &notify.MemoryNotifier{}
	emitter := &telemetry.MemoryEmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := NewEngine(NewPostgresStore(db, time.Second), events, prov, notifier, emitter, logger)

	isNew, err := engine.Ingest(ctx, Inbound{
		ProviderEventID: "evt_1",
		EventType:       "invoice.payment_failed",
		CustomerID:      "cus_1",
		Payload:         json.RawMessage(`{"id":"evt_1"}`),
	})
	require.NoError(t, err)
	require.True(t, isNew)

	require.NoError(t, engine.Reconcile(ctx, "cus_1"))

	got, err := subs.GetByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.True(t, got.InFailureState())

	tn, err := tenants.Get(ctx, "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatePastDue, tn.State)

	pending, err := events.PendingByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	ev, err := events.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "tnt_1", ev.TenantID)

	assert.Len(t, notifier.All(), 1)
	assert.Equal(t, 1, emitter.Count(telemetry.EventPaymentFailed))
}

func TestPostgresStore_LockTimeout(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	tenants := tenant.NewPostgresStore(db)
	subs := billing.NewPostgresStore(db)

	now := time.Now().UTC()
	require.NoError(t, tenants.Create(ctx, &tenant.Tenant{
		ID: "tnt_1", Name: "Acme", BillingEmail: "billing@acme.test",
		State: tenant.StateActive, CreatedAt: now, UpdatedAt: now,
	}))
	sub := billing.NewForTenant("sub_1", "tnt_1", now)
	sub.ProviderCustomerID = "cus_1"
	require.NoError(t, subs.Create(ctx, sub))

	store := NewPostgresStore(db, 200*time.Millisecond)

	// First transaction holds the row lock for the duration of the test.
	holder, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = holder.Rollback() }()
	_, err = holder.SubscriptionForCustomer(ctx, "cus_1")
	require.NoError(t, err)

	// Second transaction must give up within the lock timeout.
	waiter, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = waiter.Rollback() }()
	_, err = waiter.SubscriptionForCustomer(ctx, "cus_1")
	assert.ErrorIs(t, err, ErrLockTimeout)
}
