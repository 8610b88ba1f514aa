package billing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory subscription store for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // keyed by subscription ID
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.subs {
		if existing.TenantID == s.TenantID {
			return ErrExists
		}
	}
	m.subs[s.ID] = copySub(s)
	return nil
}

func (m *MemoryStore) GetByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subs {
		if s.TenantID == tenantID {
			return copySub(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByCustomer(ctx context.Context, providerCustomerID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if providerCustomerID == "" {
		return nil, ErrNotFound
	}
	for _, s := range m.subs {
		if s.ProviderCustomerID == providerCustomerID {
			return copySub(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[s.ID]; !ok {
		return ErrNotFound
	}
	m.subs[s.ID] = copySub(s)
	return nil
}

func copySub(s *Subscription) *Subscription {
	cp := *s
	cp.Transactions = append([]PaymentTransaction(nil), s.Transactions...)
	if s.PaymentMethod != nil {
		pm := *s.PaymentMethod
		cp.PaymentMethod = &pm
	}
	if s.BillingInfo != nil {
		bi := *s.BillingInfo
		cp.BillingInfo = &bi
	}
	if s.ScheduledPlan != nil {
		sp := *s.ScheduledPlan
		cp.ScheduledPlan = &sp
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
