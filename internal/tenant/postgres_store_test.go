//go:build integration

package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paydrift/paydrift/internal/testutil"
)

func TestPostgresStore_CRUD(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	tn := &Tenant{
		ID:           "tnt_pg1",
		Name:         "Acme",
		BillingEmail: "billing@acme.test",
		State:        StateActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Create(ctx, tn))

	got, err := store.Get(ctx, "tnt_pg1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, now, got.CreatedAt.UTC())

	got.State = StatePastDue
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.Update(ctx, got))

	got, err = store.Get(ctx, "tnt_pg1")
	require.NoError(t, err)
	assert.Equal(t, StatePastDue, got.State)

	_, err = store.Get(ctx, "tnt_missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestPostgresStore_UpdateStateTx(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	now := time.Now().UTC()
	require.NoError(t, store.Create(ctx, &Tenant{
		ID: "tnt_pg2", Name: "Beta", BillingEmail: "b@beta.test",
		State: StateActive, CreatedAt: now, UpdatedAt: now,
	}))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	got, err := GetTx(ctx, tx, "tnt_pg2")
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)

	require.NoError(t, UpdateStateTx(ctx, tx, "tnt_pg2", StateSuspended))
	require.NoError(t, tx.Commit())

	got, err = store.Get(ctx, "tnt_pg2")
	require.NoError(t, err)
	assert.Equal(t, StateSuspended, got.State)
}
