//go:build integration

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paydrift/paydrift/internal/testutil"
)

func TestPostgresStore_RecordIsIdempotent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	ev := &InboundEvent{
		ProviderEventID: "evt_pg1",
		EventType:       "invoice.payment_failed",
		Kind:            KindPaymentFailed,
		CustomerID:      "cus_pg1",
		RawPayload:      json.RawMessage(`{"id":"evt_pg1"}`),
		ReceivedAt:      time.Now().UTC(),
	}

	isNew, err := store.Record(ctx, ev)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.Record(ctx, ev)
	require.NoError(t, err)
	assert.False(t, isNew)

	got, err := store.Get(ctx, "evt_pg1")
	require.NoError(t, err)
	assert.Equal(t, KindPaymentFailed, got.Kind)
	assert.True(t, got.Pending())
}

func TestPostgresStore_PendingByCustomerOrder(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	base := time.Now().UTC().Truncate(time.Microsecond)
	// Recorded newest-first to prove ordering comes from received_at,
	// not insertion order.
	for i := 2; i >= 0; i-- {
		_, err := store.Record(ctx, &InboundEvent{
			ProviderEventID: fmt.Sprintf("evt_pg_%d", i),
			EventType:       "invoice.payment_failed",
			Kind:            KindPaymentFailed,
			CustomerID:      "cus_pg2",
			ReceivedAt:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	pending, err := store.PendingByCustomer(ctx, "cus_pg2")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "evt_pg_0", pending[0].ProviderEventID)
	assert.Equal(t, "evt_pg_2", pending[2].ProviderEventID)
}

func TestPostgresStore_MarkProcessed(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	now := time.Now().UTC()
	for _, id := range []string{"evt_a", "evt_b"} {
		_, err := store.Record(ctx, &InboundEvent{
			ProviderEventID: id,
			EventType:       "invoice.payment_failed",
			Kind:            KindPaymentFailed,
			CustomerID:      "cus_pg3",
			ReceivedAt:      now,
		})
		require.NoError(t, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, MarkProcessed(ctx, tx, []string{"evt_a", "evt_b"}, now, "sub_pg3", "tnt_pg3"))
	require.NoError(t, tx.Commit())

	pending, err := store.PendingByCustomer(ctx, "cus_pg3")
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := store.Get(ctx, "evt_a")
	require.NoError(t, err)
	assert.False(t, got.Pending())
	assert.Equal(t, "sub_pg3", got.SubscriptionID)
	assert.Equal(t, "tnt_pg3", got.TenantID)
}

func TestPostgresStore_PendingCustomers(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	now := time.Now().UTC()
	seed := []struct{ id, customer string }{
		{"evt_c1", "cus_x"},
		{"evt_c2", "cus_x"},
		{"evt_c3", "cus_y"},
		{"evt_c4", ""}, // no customer ref, never sweepable
	}
	for _, s := range seed {
		_, err := store.Record(ctx, &InboundEvent{
			ProviderEventID: s.id,
			EventType:       "invoice.payment_failed",
			Kind:            KindPaymentFailed,
			CustomerID:      s.customer,
			ReceivedAt:      now,
		})
		require.NoError(t, err)
	}

	customers, err := store.PendingCustomers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cus_x", "cus_y"}, customers)
}
