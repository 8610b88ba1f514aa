package event

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Querier is the subset of *sql.DB / *sql.Tx the event queries need.
// The reconciliation engine runs PendingByCustomer and MarkProcessed against
// its own transaction; the standalone store runs them against the pool.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectColumns = `
	provider_event_id, event_type, kind, customer_id,
	COALESCE(subscription_id, ''), COALESCE(tenant_id, ''),
	raw_payload, received_at, processed_at`

// PostgresStore persists inbound events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, e *InboundEvent) (bool, error) {
	return Record(ctx, p.db, e)
}

func (p *PostgresStore) Get(ctx context.Context, providerEventID string) (*InboundEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM inbound_events WHERE provider_event_id = $1`, providerEventID)
	return scanEvent(row)
}

func (p *PostgresStore) PendingByCustomer(ctx context.Context, customerID string) ([]*InboundEvent, error) {
	return PendingByCustomer(ctx, p.db, customerID)
}

func (p *PostgresStore) PendingCustomers(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT customer_id FROM inbound_events
		WHERE processed_at IS NULL AND customer_id <> ''
		ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var customers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		customers = append(customers, id)
	}
	return customers, rows.Err()
}

// Record inserts the event unless its provider event ID was already seen.
// ON CONFLICT DO NOTHING makes the check-and-insert atomic under concurrent
// deliveries of the same event.
func Record(ctx context.Context, q Querier, e *InboundEvent) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO inbound_events
			(provider_event_id, event_type, kind, customer_id, subscription_id, raw_payload, received_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (provider_event_id) DO NOTHING`,
		e.ProviderEventID, e.EventType, string(e.Kind), e.CustomerID,
		e.SubscriptionID, []byte(e.RawPayload), e.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PendingByCustomer returns all unprocessed events for a customer in
// receipt order.
func PendingByCustomer(ctx context.Context, q Querier, customerID string) ([]*InboundEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM inbound_events
		WHERE customer_id = $1 AND processed_at IS NULL
		ORDER BY received_at, provider_event_id`, customerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*InboundEvent
	for rows.Next() {
		e, err := scanEventRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkProcessed stamps the batch with the reconciliation time and the
// resolved subscription/tenant linkage. Must run on the same transaction as
// the aggregate mutation it corresponds to.
func MarkProcessed(ctx context.Context, q Querier, providerEventIDs []string, at time.Time, subscriptionID, tenantID string) error {
	if len(providerEventIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		UPDATE inbound_events
		SET processed_at = $1,
		    subscription_id = COALESCE(NULLIF($2, ''), subscription_id),
		    tenant_id = NULLIF($3, '')
		WHERE provider_event_id = ANY($4) AND processed_at IS NULL`,
		at, subscriptionID, tenantID, pq.Array(providerEventIDs),
	)
	return err
}

func scanEvent(row *sql.Row) (*InboundEvent, error) {
	e := &InboundEvent{}
	var kind string
	var processedAt sql.NullTime
	err := row.Scan(&e.ProviderEventID, &e.EventType, &kind, &e.CustomerID,
		&e.SubscriptionID, &e.TenantID, (*[]byte)(&e.RawPayload), &e.ReceivedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return e, nil
}

func scanEventRows(rows *sql.Rows) (*InboundEvent, error) {
	e := &InboundEvent{}
	var kind string
	var processedAt sql.NullTime
	err := rows.Scan(&e.ProviderEventID, &e.EventType, &kind, &e.CustomerID,
		&e.SubscriptionID, &e.TenantID, (*[]byte)(&e.RawPayload), &e.ReceivedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return e, nil
}

var _ Store = (*PostgresStore)(nil)
