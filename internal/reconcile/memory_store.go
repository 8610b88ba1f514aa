package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/event"
	"github.com/paydrift/paydrift/internal/syncutil"
	"github.com/paydrift/paydrift/internal/tenant"
)

// MemoryStore runs reconciliation passes against the in-memory domain
// stores. Per-customer mutual exclusion uses a context-aware sharded mutex
// instead of row locks; writes are buffered on the transaction and applied
// at Commit, so a rolled-back pass leaves the stores untouched.
type MemoryStore struct {
	events  *event.MemoryStore
	subs    *billing.MemoryStore
	tenants *tenant.MemoryStore

	locks       *syncutil.ContextShardedMutex
	lockTimeout time.Duration
}

// NewMemoryStore creates an in-memory reconciliation store over the given
// domain stores.
func NewMemoryStore(events *event.MemoryStore, subs *billing.MemoryStore, tenants *tenant.MemoryStore, lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		events:      events,
		subs:        subs,
		tenants:     tenants,
		locks:       syncutil.NewContextShardedMutex(),
		lockTimeout: lockTimeout,
	}
}

func (m *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{store: m}, nil
}

type memoryTx struct {
	store *MemoryStore

	mu     sync.Mutex
	unlock func()
	done   bool

	// staged writes, applied at Commit
	sub         *billing.Subscription
	tenantID    string
	tenantState tenant.State
	stateStaged bool
	processed   []string
	processedAt time.Time
	subID       string
	tenID       string
}

func (t *memoryTx) SubscriptionForCustomer(ctx context.Context, providerCustomerID string) (*billing.Subscription, error) {
	lockCtx, cancel := context.WithTimeout(ctx, t.store.lockTimeout)
	defer cancel()

	unlock, err := t.store.locks.LockContext(lockCtx, providerCustomerID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	t.mu.Lock()
	t.unlock = unlock
	t.mu.Unlock()

	return t.store.subs.GetByCustomer(ctx, providerCustomerID)
}

func (t *memoryTx) Tenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return t.store.tenants.Get(ctx, tenantID)
}

func (t *memoryTx) PendingEvents(ctx context.Context, providerCustomerID string) ([]*event.InboundEvent, error) {
	return t.store.events.PendingByCustomer(ctx, providerCustomerID)
}

func (t *memoryTx) SaveSubscription(ctx context.Context, s *billing.Subscription) error {
	t.sub = s
	return nil
}

func (t *memoryTx) SaveTenantState(ctx context.Context, tenantID string, state tenant.State) error {
	t.tenantID = tenantID
	t.tenantState = state
	t.stateStaged = true
	return nil
}

func (t *memoryTx) MarkProcessed(ctx context.Context, providerEventIDs []string, at time.Time, subscriptionID, tenantID string) error {
	t.processed = providerEventIDs
	t.processedAt = at
	t.subID = subscriptionID
	t.tenID = tenantID
	return nil
}

func (t *memoryTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()

	ctx := context.Background()
	if t.sub != nil {
		if err := t.store.subs.Update(ctx, t.sub); err != nil {
			return err
		}
	}
	if t.stateStaged {
		tn, err := t.store.tenants.Get(ctx, t.tenantID)
		if err != nil {
			return err
		}
		if tn.State != t.tenantState {
			tn.State = t.tenantState
			tn.UpdatedAt = t.processedAt
			if err := t.store.tenants.Update(ctx, tn); err != nil {
				return err
			}
		}
	}
	if len(t.processed) > 0 {
		if err := t.store.events.MarkProcessed(ctx, t.processed, t.processedAt, t.subID, t.tenID); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}

func (t *memoryTx) release() {
	if t.unlock != nil {
		t.unlock()
		t.unlock = nil
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryTx)(nil)
)
