package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/plan"
	"github.com/paydrift/paydrift/internal/retry"
)

// Price lookup keys registered in the Stripe dashboard, one per paid plan.
var lookupKeys = map[string]plan.Plan{
	"standard_monthly": plan.Standard,
	"premium_monthly":  plan.Premium,
}

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	api         *client.API
	maxAttempts int
	baseDelay   time.Duration
}

// NewStripeClient creates a Stripe-backed provider client. Each call is
// retried with backoff; Stripe's own idempotency makes reads safe to repeat.
func NewStripeClient(apiKey string) *StripeClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeClient{
		api:         api,
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
	}
}

func (c *StripeClient) SyncSubscriptionState(ctx context.Context, customerID string) (*billing.Snapshot, error) {
	var snap *billing.Snapshot
	err := c.withRetry(ctx, func() error {
		var err error
		snap, err = c.syncOnce(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *StripeClient) syncOnce(ctx context.Context, customerID string) (*billing.Snapshot, error) {
	sub, err := c.activeSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}

	snap := &billing.Snapshot{
		ProviderSubscriptionID: sub.ID,
		Plan:                   planFromSubscription(sub),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		snap.CurrentPeriodEnd = &end
	}
	// A pending downgrade is recorded in subscription metadata when the
	// plan change is scheduled for period end.
	if scheduled, ok := sub.Metadata["scheduled_plan"]; ok {
		if p, err := plan.Parse(scheduled); err == nil {
			snap.ScheduledPlan = &p
		}
	}

	snap.PaymentMethod, err = c.cardOnFile(ctx, customerID)
	if err != nil {
		return nil, err
	}

	snap.Transactions, err = c.transactionHistory(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// activeSubscription returns the customer's newest non-canceled
// subscription, or ErrNoSubscription.
func (c *StripeClient) activeSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var newest *stripe.Subscription
	it := c.api.Subscriptions.List(params)
	for it.Next() {
		sub := it.Subscription()
		switch sub.Status {
		case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
			continue
		}
		if newest == nil || sub.Created > newest.Created {
			newest = sub
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if newest == nil {
		return nil, retry.Permanent(ErrNoSubscription)
	}
	return newest, nil
}

func (c *StripeClient) cardOnFile(ctx context.Context, customerID string) (*billing.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := c.api.PaymentMethods.List(params)
	for it.Next() {
		pm := it.PaymentMethod()
		if pm.Card == nil {
			continue
		}
		return &billing.PaymentMethod{
			Brand:    string(pm.Card.Brand),
			Last4:    pm.Card.Last4,
			ExpMonth: int(pm.Card.ExpMonth),
			ExpYear:  int(pm.Card.ExpYear),
		}, nil
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return nil, nil
}

func (c *StripeClient) transactionHistory(ctx context.Context, customerID string) ([]billing.PaymentTransaction, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var txns []billing.PaymentTransaction
	it := c.api.Invoices.List(params)
	for it.Next() {
		inv := it.Invoice()
		txns = append(txns, invoiceToTransaction(inv))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return txns, nil
}

func (c *StripeClient) GetBillingInfo(ctx context.Context, customerID string) (*billing.BillingInfo, error) {
	var info *billing.BillingInfo
	err := c.withRetry(ctx, func() error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		cust, err := c.api.Customers.Get(customerID, params)
		if err != nil {
			return fmt.Errorf("get customer: %w", err)
		}
		if cust.Deleted {
			info = nil
			return nil
		}
		info = &billing.BillingInfo{
			Name:  cust.Name,
			Email: cust.Email,
		}
		if cust.Address != nil {
			info.Line1 = cust.Address.Line1
			info.Line2 = cust.Address.Line2
			info.City = cust.Address.City
			info.PostalCode = cust.Address.PostalCode
			info.Country = cust.Address.Country
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (c *StripeClient) GetCheckoutPreview(ctx context.Context, customerID string, target plan.Plan) (*CheckoutPreview, error) {
	price, err := c.priceFor(ctx, target)
	if err != nil {
		return nil, err
	}
	// Tax is assessed by the provider at checkout time from the customer's
	// address; the preview quotes the pre-tax amount.
	return &CheckoutPreview{
		TotalCents: price.UnitAmountCents,
		Currency:   price.Currency,
		TaxCents:   0,
	}, nil
}

func (c *StripeClient) GetUpgradePreview(ctx context.Context, providerSubscriptionID string, target plan.Plan) (*UpgradePreview, error) {
	price, err := c.priceFor(ctx, target)
	if err != nil {
		return nil, err
	}

	subParams := &stripe.SubscriptionParams{}
	subParams.Context = ctx
	sub, err := c.api.Subscriptions.Get(providerSubscriptionID, subParams)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items", providerSubscriptionID)
	}

	params := &stripe.InvoiceUpcomingParams{
		Customer:     stripe.String(sub.Customer.ID),
		Subscription: stripe.String(providerSubscriptionID),
		SubscriptionItems: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(sub.Items.Data[0].ID),
			Price: stripe.String(price.PriceID),
		}},
	}
	params.Context = ctx

	inv, err := c.api.Invoices.Upcoming(params)
	if err != nil {
		return nil, fmt.Errorf("preview upcoming invoice: %w", err)
	}

	preview := &UpgradePreview{
		TotalCents: inv.Total,
		Currency:   strings.ToUpper(string(inv.Currency)),
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			preview.LineItems = append(preview.LineItems, LineItem{
				Description: line.Description,
				AmountCents: line.Amount,
			})
		}
	}
	return preview, nil
}

func (c *StripeClient) GetPriceCatalog(ctx context.Context) ([]PlanPrice, error) {
	var keys []*string
	for k := range lookupKeys {
		keys = append(keys, stripe.String(k))
	}
	params := &stripe.PriceListParams{
		Active:     stripe.Bool(true),
		LookupKeys: keys,
	}
	params.Context = ctx

	var catalog []PlanPrice
	it := c.api.Prices.List(params)
	for it.Next() {
		p := it.Price()
		target, ok := lookupKeys[p.LookupKey]
		if !ok {
			continue
		}
		entry := PlanPrice{
			Plan:            target,
			PriceID:         p.ID,
			UnitAmountCents: p.UnitAmount,
			Currency:        strings.ToUpper(string(p.Currency)),
		}
		if p.Recurring != nil {
			entry.Interval = string(p.Recurring.Interval)
		}
		catalog = append(catalog, entry)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return catalog, nil
}

func (c *StripeClient) priceFor(ctx context.Context, target plan.Plan) (*PlanPrice, error) {
	if !target.Paid() {
		return nil, retry.Permanent(fmt.Errorf("plan %s is not purchasable", target))
	}
	catalog, err := c.GetPriceCatalog(ctx)
	if err != nil {
		return nil, err
	}
	for i := range catalog {
		if catalog[i].Plan == target {
			return &catalog[i], nil
		}
	}
	return nil, retry.Permanent(fmt.Errorf("no price configured for plan %s", target))
}

func (c *StripeClient) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, c.maxAttempts, c.baseDelay, fn)
}

func planFromSubscription(sub *stripe.Subscription) plan.Plan {
	if sub.Items == nil {
		return plan.Basis
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		if p, ok := lookupKeys[item.Price.LookupKey]; ok {
			return p
		}
		if meta, ok := item.Price.Metadata["plan"]; ok {
			if p, err := plan.Parse(meta); err == nil {
				return p
			}
		}
	}
	return plan.Basis
}

func invoiceToTransaction(inv *stripe.Invoice) billing.PaymentTransaction {
	txn := billing.PaymentTransaction{
		ID:          inv.ID,
		AmountCents: inv.AmountDue,
		Currency:    strings.ToUpper(string(inv.Currency)),
		Date:        time.Unix(inv.Created, 0).UTC(),
		InvoiceURL:  inv.HostedInvoiceURL,
	}
	switch inv.Status {
	case stripe.InvoiceStatusPaid:
		txn.Status = billing.TxnSucceeded
		txn.AmountCents = inv.AmountPaid
	case stripe.InvoiceStatusOpen:
		if inv.AttemptCount > 0 {
			txn.Status = billing.TxnFailed
			txn.FailureReason = "payment attempt failed"
		} else {
			txn.Status = billing.TxnPending
		}
	case stripe.InvoiceStatusUncollectible, stripe.InvoiceStatusVoid:
		txn.Status = billing.TxnFailed
	default:
		txn.Status = billing.TxnPending
	}
	if inv.Charge != nil && inv.Charge.Refunded {
		txn.Status = billing.TxnRefunded
	}
	return txn
}

var _ Client = (*StripeClient)(nil)
