package tenant

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, billing_email, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.BillingEmail, string(t.State), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrTenantExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, billing_email, state, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, billing_email = $2, state = $3, updated_at = $4
		WHERE id = $5`,
		t.Name, t.BillingEmail, string(t.State), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// Querier is the subset of *sql.DB / *sql.Tx the tenant queries need.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetTx loads a tenant on an existing transaction.
func GetTx(ctx context.Context, q Querier, id string) (*Tenant, error) {
	return scanTenant(q.QueryRowContext(ctx, `
		SELECT id, name, billing_email, state, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

// UpdateStateTx sets just the tenant state on an existing transaction. Used
// by the reconciliation engine so the state change commits atomically with
// the aggregate mutation.
func UpdateStateTx(ctx context.Context, q Querier, tenantID string, state State) error {
	result, err := q.ExecContext(ctx, `
		UPDATE tenants SET state = $1, updated_at = NOW() WHERE id = $2`,
		string(state), tenantID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	var state string
	err := row.Scan(&t.ID, &t.Name, &t.BillingEmail, &state, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.State = State(state)
	return t, nil
}

var _ Store = (*PostgresStore)(nil)
