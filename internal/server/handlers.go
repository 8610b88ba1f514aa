package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/idgen"
	"github.com/paydrift/paydrift/internal/logging"
	"github.com/paydrift/paydrift/internal/plan"
	"github.com/paydrift/paydrift/internal/reconcile"
	"github.com/paydrift/paydrift/internal/tenant"
)

const maxWebhookBody = 1 << 20 // 1MB

// stripeWebhookHandler is the phase-1 entry point: verify, record, ack.
// All interpretation happens later inside a reconciliation pass.
func (s *Server) stripeWebhookHandler(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Could not read request body",
		})
		return
	}

	evt, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), s.cfg.StripeWebhookSecret)
	if err != nil {
		logging.L(ctx).Warn("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
		return
	}

	customerID, subscriptionID := eventRefs(evt)
	isNew, err := s.engine.Ingest(ctx, reconcile.Inbound{
		ProviderEventID: evt.ID,
		EventType:       string(evt.Type),
		CustomerID:      customerID,
		SubscriptionID:  subscriptionID,
		Payload:         evt.Data.Raw,
	})
	if err != nil {
		logging.L(ctx).Error("failed to record webhook event", "event_id", evt.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record event",
		})
		return
	}

	if !isNew {
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"received": true})
}

// eventRefs pulls the customer and subscription references out of a raw
// event without interpreting the rest of the payload.
func eventRefs(evt stripe.Event) (customerID, subscriptionID string) {
	obj := evt.Data.Object
	eventType := string(evt.Type)

	field := func(name string) string {
		if v, ok := obj[name].(string); ok {
			return v
		}
		// expanded objects arrive as {"id": "..."}
		if m, ok := obj[name].(map[string]interface{}); ok {
			if id, ok := m["id"].(string); ok {
				return id
			}
		}
		return ""
	}

	switch {
	case eventType == "customer.deleted":
		return field("id"), ""
	case strings.HasPrefix(eventType, "customer.subscription."):
		return field("customer"), field("id")
	default:
		return field("customer"), field("subscription")
	}
}

func (s *Server) createTenantHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Name         string `json:"name" binding:"required"`
		BillingEmail string `json:"billingEmail" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name and billingEmail are required",
		})
		return
	}

	now := time.Now().UTC()
	t := &tenant.Tenant{
		ID:           idgen.WithPrefix("tnt_"),
		Name:         req.Name,
		BillingEmail: req.BillingEmail,
		State:        tenant.StateActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.tenants.Create(ctx, t); err != nil {
		logging.L(ctx).Error("failed to create tenant", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create tenant",
		})
		return
	}

	// Every tenant starts on the free plan with no provider linkage.
	sub := billing.NewForTenant(idgen.WithPrefix("sub_"), t.ID, now)
	if err := s.subs.Create(ctx, sub); err != nil {
		logging.L(ctx).Error("failed to create subscription", "tenant_id", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create subscription",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": t, "subscription": sub})
}

func (s *Server) getSubscriptionHandler(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("id")

	t, err := s.tenants.Get(ctx, tenantID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Tenant not found",
		})
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to load tenant", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	sub, err := s.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		logging.L(ctx).Error("failed to load subscription", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenantState":  t.State,
		"subscription": sub,
		"planLimits":   plan.ConfigFor(sub.Plan),
	})
}

// previewHandler prices a plan change: a prorated upgrade preview when a
// provider subscription exists, a fresh checkout preview otherwise.
func (s *Server) previewHandler(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("id")

	target, err := plan.Parse(c.Query("plan"))
	if err != nil || !target.Paid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_plan",
			"message": "plan must be a purchasable plan",
		})
		return
	}

	sub, err := s.subs.GetByTenant(ctx, tenantID)
	if errors.Is(err, billing.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to load subscription", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	if sub.ProviderSubscriptionID != "" && target != sub.Plan {
		preview, err := s.provider.GetUpgradePreview(ctx, sub.ProviderSubscriptionID, target)
		if err != nil {
			logging.L(ctx).Error("upgrade preview failed", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "provider_error",
				"message": "Could not price the plan change",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"kind": "upgrade", "preview": preview})
		return
	}

	if sub.ProviderCustomerID == "" {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_billing_account",
			"message": "Tenant has no billing account with the payment provider yet",
		})
		return
	}
	preview, err := s.provider.GetCheckoutPreview(ctx, sub.ProviderCustomerID, target)
	if err != nil {
		logging.L(ctx).Error("checkout preview failed", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_error",
			"message": "Could not price the plan change",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": "checkout", "preview": preview})
}

// recordCancellationHandler stores the cancellation survey. The reason's
// presence is what later classifies a subscription deletion as voluntary.
func (s *Server) recordCancellationHandler(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("id")

	var req struct {
		Reason   string `json:"reason" binding:"required"`
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	sub, err := s.subs.GetByTenant(ctx, tenantID)
	if errors.Is(err, billing.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to load subscription", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	sub.CancellationReason = req.Reason
	sub.CancellationFeedback = req.Feedback
	sub.UpdatedAt = time.Now().UTC()
	if err := s.subs.Update(ctx, sub); err != nil {
		logging.L(ctx).Error("failed to save cancellation survey", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

func (s *Server) listPlansHandler(c *gin.Context) {
	ctx := c.Request.Context()

	prices, err := s.provider.GetPriceCatalog(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to load price catalog", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_error",
			"message": "Could not load plan prices",
		})
		return
	}

	plans := make([]gin.H, 0, len(prices))
	for _, p := range prices {
		plans = append(plans, gin.H{
			"plan":   p.Plan,
			"price":  p,
			"limits": plan.ConfigFor(p.Plan),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// adminReconcileHandler runs a reconciliation pass inline and reports the
// result. Useful for support and for draining a stuck backlog by hand.
func (s *Server) adminReconcileHandler(c *gin.Context) {
	ctx := c.Request.Context()
	customerID := c.Param("customerID")

	if err := s.engine.Reconcile(ctx, customerID); err != nil {
		if errors.Is(err, reconcile.ErrLockTimeout) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "lock_timeout",
				"message": "Another pass holds the customer lock; retry shortly",
			})
			return
		}
		logging.L(ctx).Error("manual reconciliation failed", "customer_id", customerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciled": true})
}

func (s *Server) adminEventsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	customerID := c.Query("customer")

	if customerID != "" {
		events, err := s.events.PendingByCustomer(ctx, customerID)
		if err != nil {
			logging.L(ctx).Error("failed to list pending events", "customer_id", customerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"customer": customerID, "pending": events})
		return
	}

	customers, err := s.events.PendingCustomers(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to list pending customers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}
