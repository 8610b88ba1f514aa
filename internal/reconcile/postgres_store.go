package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/event"
	"github.com/paydrift/paydrift/internal/tenant"
)

// PostgresStore runs reconciliation passes inside real database
// transactions. The per-customer lock is the subscription row lock taken
// with SELECT ... FOR UPDATE; lock waits are bounded with a local
// lock_timeout so a stuck pass cannot pile up waiters.
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresStore creates a PostgreSQL-backed reconciliation store.
func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (p *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin reconcile tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("set lock_timeout: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) SubscriptionForCustomer(ctx context.Context, providerCustomerID string) (*billing.Subscription, error) {
	s, err := billing.GetByCustomerForUpdate(ctx, t.tx, providerCustomerID)
	if err != nil {
		// 55P03 lock_not_available: lock_timeout expired while waiting
		// for the row lock.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "55P03" {
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	return s, nil
}

func (t *postgresTx) Tenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return tenant.GetTx(ctx, t.tx, tenantID)
}

func (t *postgresTx) PendingEvents(ctx context.Context, providerCustomerID string) ([]*event.InboundEvent, error) {
	return event.PendingByCustomer(ctx, t.tx, providerCustomerID)
}

func (t *postgresTx) SaveSubscription(ctx context.Context, s *billing.Subscription) error {
	return billing.Save(ctx, t.tx, s)
}

func (t *postgresTx) SaveTenantState(ctx context.Context, tenantID string, state tenant.State) error {
	return tenant.UpdateStateTx(ctx, t.tx, tenantID, state)
}

func (t *postgresTx) MarkProcessed(ctx context.Context, providerEventIDs []string, at time.Time, subscriptionID, tenantID string) error {
	return event.MarkProcessed(ctx, t.tx, providerEventIDs, at, subscriptionID, tenantID)
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit()
}

func (t *postgresTx) Rollback() error {
	return t.tx.Rollback()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
)
