package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	now := time.Now().UTC()
	tn := &Tenant{ID: "tnt_1", State: StateActive, UpdatedAt: now}

	later := now.Add(time.Minute)
	changed := tn.Transition(StatePastDue, later)
	assert.True(t, changed)
	assert.Equal(t, StatePastDue, tn.State)
	assert.Equal(t, later, tn.UpdatedAt)

	// Transitioning into the current state is a no-op.
	changed = tn.Transition(StatePastDue, later.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, later, tn.UpdatedAt)

	assert.True(t, tn.Transition(StateSuspended, later))
	assert.True(t, tn.Suspended())
	assert.True(t, tn.Transition(StateActive, later))
	assert.False(t, tn.Suspended())
}

func TestValidState(t *testing.T) {
	assert.True(t, ValidState(StateActive))
	assert.True(t, ValidState(StatePastDue))
	assert.True(t, ValidState(StateSuspended))
	assert.False(t, ValidState(State("deleted")))
}

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now().UTC()
	tn := &Tenant{
		ID:           "tnt_1",
		Name:         "Acme Corp",
		BillingEmail: "billing@acme.test",
		State:        StateActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := store.Create(ctx, tn)
	require.NoError(t, err)

	err = store.Create(ctx, tn)
	assert.ErrorIs(t, err, ErrTenantExists)

	got, err := store.Get(ctx, "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	// Mutating the returned copy does not leak into the store.
	got.Name = "Evil Corp"
	again, _ := store.Get(ctx, "tnt_1")
	assert.Equal(t, "Acme Corp", again.Name)

	again.Name = "Acme Inc"
	err = store.Update(ctx, again)
	require.NoError(t, err)

	final, _ := store.Get(ctx, "tnt_1")
	assert.Equal(t, "Acme Inc", final.Name)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	err = store.Update(ctx, &Tenant{ID: "nonexistent"})
	assert.ErrorIs(t, err, ErrTenantNotFound)
}
