package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/paydrift/paydrift/internal/plan"
)

// Querier is the subset of *sql.DB / *sql.Tx the subscription queries need.
// The reconciliation engine runs the locked load and the save against its
// own transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const subColumns = `
	id, tenant_id, plan, scheduled_plan, provider_customer_id, provider_subscription_id,
	current_period_end, cancel_at_period_end, first_payment_failed_at,
	last_notification_sent_at, disputed_at, refunded_at,
	COALESCE(cancellation_reason, ''), COALESCE(cancellation_feedback, ''),
	payment_method, billing_info, created_at, updated_at`

// PostgresStore persists subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	pm, bi, err := marshalValueObjects(s)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO subscriptions
			(id, tenant_id, plan, scheduled_plan, provider_customer_id, provider_subscription_id,
			 current_period_end, cancel_at_period_end, first_payment_failed_at,
			 last_notification_sent_at, disputed_at, refunded_at,
			 cancellation_reason, cancellation_feedback, payment_method, billing_info,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12,
			NULLIF($13, ''), NULLIF($14, ''), $15, $16, $17, $18)`,
		s.ID, s.TenantID, string(s.Plan), scheduledPlanArg(s.ScheduledPlan),
		s.ProviderCustomerID, s.ProviderSubscriptionID,
		s.CurrentPeriodEnd, s.CancelAtPeriodEnd, s.FirstPaymentFailedAt,
		s.LastNotificationSentAt, s.DisputedAt, s.RefundedAt,
		s.CancellationReason, s.CancellationFeedback, pm, bi,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	return loadOne(ctx, p.db, `SELECT `+subColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID)
}

func (p *PostgresStore) GetByCustomer(ctx context.Context, providerCustomerID string) (*Subscription, error) {
	return loadOne(ctx, p.db, `SELECT `+subColumns+` FROM subscriptions WHERE provider_customer_id = $1`, providerCustomerID)
}

func (p *PostgresStore) Update(ctx context.Context, s *Subscription) error {
	return Save(ctx, p.db, s)
}

// GetByCustomerForUpdate loads the aggregate under a row lock. Run on a
// transaction, this is the serialization point for concurrent
// reconciliations of the same customer: the second caller blocks until the
// first commits. The caller should bound the wait with lock_timeout.
func GetByCustomerForUpdate(ctx context.Context, q Querier, providerCustomerID string) (*Subscription, error) {
	return loadOne(ctx, q, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE provider_customer_id = $1 FOR UPDATE`, providerCustomerID)
}

// Save writes the aggregate and upserts its transaction history. Historical
// charges are append-mostly: the provider can flip a transaction's status
// (e.g. to refunded), so existing rows are updated, never deleted.
func Save(ctx context.Context, q Querier, s *Subscription) error {
	pm, bi, err := marshalValueObjects(s)
	if err != nil {
		return err
	}
	result, err := q.ExecContext(ctx, `
		UPDATE subscriptions SET
			plan = $1, scheduled_plan = $2, provider_customer_id = NULLIF($3, ''),
			provider_subscription_id = NULLIF($4, ''), current_period_end = $5,
			cancel_at_period_end = $6, first_payment_failed_at = $7,
			last_notification_sent_at = $8, disputed_at = $9, refunded_at = $10,
			cancellation_reason = NULLIF($11, ''), cancellation_feedback = NULLIF($12, ''),
			payment_method = $13, billing_info = $14, updated_at = $15
		WHERE id = $16`,
		string(s.Plan), scheduledPlanArg(s.ScheduledPlan), s.ProviderCustomerID,
		s.ProviderSubscriptionID, s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd, s.FirstPaymentFailedAt,
		s.LastNotificationSentAt, s.DisputedAt, s.RefundedAt,
		s.CancellationReason, s.CancellationFeedback, pm, bi, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	for _, txn := range s.Transactions {
		_, err := q.ExecContext(ctx, `
			INSERT INTO payment_transactions
				(subscription_id, id, amount_cents, currency, status, date, failure_reason, invoice_url)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
			ON CONFLICT (subscription_id, id) DO UPDATE SET
				status = EXCLUDED.status,
				failure_reason = EXCLUDED.failure_reason,
				invoice_url = EXCLUDED.invoice_url`,
			s.ID, txn.ID, txn.AmountCents, txn.Currency, string(txn.Status),
			txn.Date, txn.FailureReason, txn.InvoiceURL,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func loadOne(ctx context.Context, q Querier, query string, arg any) (*Subscription, error) {
	s, err := scanSubscription(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	s.Transactions, err = loadTransactions(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func loadTransactions(ctx context.Context, q Querier, subscriptionID string) ([]PaymentTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, amount_cents, currency, status, date,
			COALESCE(failure_reason, ''), COALESCE(invoice_url, '')
		FROM payment_transactions
		WHERE subscription_id = $1
		ORDER BY date DESC, id`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txns []PaymentTransaction
	for rows.Next() {
		var t PaymentTransaction
		var status string
		if err := rows.Scan(&t.ID, &t.AmountCents, &t.Currency, &status, &t.Date,
			&t.FailureReason, &t.InvoiceURL); err != nil {
			return nil, err
		}
		t.Status = TransactionStatus(status)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	s := &Subscription{}
	var (
		planStr                            string
		scheduledPlan                      sql.NullString
		providerCustomerID, providerSubID  sql.NullString
		periodEnd, failedAt, notifiedAt    sql.NullTime
		disputedAt, refundedAt             sql.NullTime
		paymentMethodJSON, billingInfoJSON []byte
	)
	err := row.Scan(&s.ID, &s.TenantID, &planStr, &scheduledPlan,
		&providerCustomerID, &providerSubID,
		&periodEnd, &s.CancelAtPeriodEnd, &failedAt,
		&notifiedAt, &disputedAt, &refundedAt,
		&s.CancellationReason, &s.CancellationFeedback,
		&paymentMethodJSON, &billingInfoJSON, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Plan = plan.Plan(planStr)
	if scheduledPlan.Valid {
		p := plan.Plan(scheduledPlan.String)
		s.ScheduledPlan = &p
	}
	if providerCustomerID.Valid {
		s.ProviderCustomerID = providerCustomerID.String
	}
	if providerSubID.Valid {
		s.ProviderSubscriptionID = providerSubID.String
	}
	s.CurrentPeriodEnd = nullTimePtr(periodEnd)
	s.FirstPaymentFailedAt = nullTimePtr(failedAt)
	s.LastNotificationSentAt = nullTimePtr(notifiedAt)
	s.DisputedAt = nullTimePtr(disputedAt)
	s.RefundedAt = nullTimePtr(refundedAt)
	if len(paymentMethodJSON) > 0 {
		pm := &PaymentMethod{}
		if err := json.Unmarshal(paymentMethodJSON, pm); err == nil {
			s.PaymentMethod = pm
		}
	}
	if len(billingInfoJSON) > 0 {
		bi := &BillingInfo{}
		if err := json.Unmarshal(billingInfoJSON, bi); err == nil {
			s.BillingInfo = bi
		}
	}
	return s, nil
}

func marshalValueObjects(s *Subscription) (paymentMethod, billingInfo []byte, err error) {
	if s.PaymentMethod != nil {
		paymentMethod, err = json.Marshal(s.PaymentMethod)
		if err != nil {
			return nil, nil, err
		}
	}
	if s.BillingInfo != nil {
		billingInfo, err = json.Marshal(s.BillingInfo)
		if err != nil {
			return nil, nil, err
		}
	}
	return paymentMethod, billingInfo, nil
}

func scheduledPlanArg(p *plan.Plan) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Store = (*PostgresStore)(nil)
