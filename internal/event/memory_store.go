package event

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory event store for tests and DATABASE_URL-less
// development runs. The single mutex gives it the same atomic
// check-and-insert semantics the unique constraint gives the Postgres store.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*InboundEvent // keyed by provider event ID
	order  int64
	seq    map[string]int64 // insertion sequence, tie-breaks equal timestamps
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*InboundEvent),
		seq:    make(map[string]int64),
	}
}

func (m *MemoryStore) Record(ctx context.Context, e *InboundEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.events[e.ProviderEventID]; exists {
		return false, nil
	}
	cp := *e
	m.events[e.ProviderEventID] = &cp
	m.order++
	m.seq[e.ProviderEventID] = m.order
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, providerEventID string) (*InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[providerEventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) PendingByCustomer(ctx context.Context, customerID string) ([]*InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingByCustomerLocked(customerID), nil
}

// pendingByCustomerLocked returns copies of pending events in receipt order.
// Caller must hold m.mu.
func (m *MemoryStore) pendingByCustomerLocked(customerID string) []*InboundEvent {
	var events []*InboundEvent
	for _, e := range m.events {
		if e.CustomerID == customerID && e.ProcessedAt == nil {
			cp := *e
			events = append(events, &cp)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].ReceivedAt.Equal(events[j].ReceivedAt) {
			return events[i].ReceivedAt.Before(events[j].ReceivedAt)
		}
		return m.seq[events[i].ProviderEventID] < m.seq[events[j].ProviderEventID]
	})
	return events
}

func (m *MemoryStore) PendingCustomers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var customers []string
	for _, e := range m.events {
		if e.ProcessedAt == nil && e.CustomerID != "" && !seen[e.CustomerID] {
			seen[e.CustomerID] = true
			customers = append(customers, e.CustomerID)
		}
	}
	sort.Strings(customers)
	return customers, nil
}

// markProcessedLocked stamps the given events. Caller must hold m.mu; the
// reconcile memory store calls this while holding its per-customer lock.
func (m *MemoryStore) markProcessedLocked(providerEventIDs []string, at time.Time, subscriptionID, tenantID string) {
	for _, id := range providerEventIDs {
		e, ok := m.events[id]
		if !ok || e.ProcessedAt != nil {
			continue
		}
		t := at
		e.ProcessedAt = &t
		if subscriptionID != "" {
			e.SubscriptionID = subscriptionID
		}
		e.TenantID = tenantID
	}
}

// MarkProcessed stamps the batch outside any surrounding transaction. The
// reconciliation engine's memory store uses the locked variant instead.
func (m *MemoryStore) MarkProcessed(ctx context.Context, providerEventIDs []string, at time.Time, subscriptionID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markProcessedLocked(providerEventIDs, at, subscriptionID, tenantID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
