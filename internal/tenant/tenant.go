// Package tenant holds the tenant directory and its billing state machine.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrTenantExists   = errors.New("tenant: already exists")
)

// State represents a tenant's billing lifecycle state.
type State string

const (
	StateActive    State = "active"
	StatePastDue   State = "past_due"
	StateSuspended State = "suspended"
)

// ValidState returns true if the state name is recognised.
func ValidState(s State) bool {
	switch s {
	case StateActive, StatePastDue, StateSuspended:
		return true
	}
	return false
}

// Tenant is the organisation that owns exactly one subscription.
type Tenant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BillingEmail string    `json:"billingEmail"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Suspended reports whether the tenant has lost service.
func (t *Tenant) Suspended() bool {
	return t.State == StateSuspended
}

// Transition moves the tenant to the given state and returns whether
// anything changed. All transitions between the three states are legal;
// which edges fire is decided by the reconciliation engine's guards, not
// here. Idempotent: transitioning into the current state is a no-op.
func (t *Tenant) Transition(to State, at time.Time) bool {
	if t.State == to {
		return false
	}
	t.State = to
	t.UpdatedAt = at
	return true
}
