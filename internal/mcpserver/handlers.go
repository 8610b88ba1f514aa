package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PaydriftClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PaydriftClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetSubscription looks up a tenant's billing state.
func (h *Handlers) HandleGetSubscription(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.GetSubscription(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch subscription: %v", err)), nil
	}

	text, err := formatSubscription(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse subscription: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListPendingEvents shows the reconciliation backlog.
func (h *Handlers) HandleListPendingEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID := req.GetString("customer_id", "")

	raw, err := h.client.ListPendingEvents(ctx, customerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pending events: %v", err)), nil
	}

	if customerID == "" {
		text, err := formatBacklog(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse backlog: %v", err)), nil
		}
		return mcp.NewToolResultText(text), nil
	}

	text, err := formatPendingEvents(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleTriggerReconciliation runs a pass for one customer.
func (h *Handlers) HandleTriggerReconciliation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID := req.GetString("customer_id", "")
	if customerID == "" {
		return mcp.NewToolResultError("customer_id is required"), nil
	}

	if _, err := h.client.TriggerReconciliation(ctx, customerID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reconciliation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Reconciliation pass completed for customer %s. "+
			"Run get_subscription on the tenant to see the resulting state.", customerID)), nil
}

// HandleListPlans fetches the price catalog.
func (h *Handlers) HandleListPlans(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPlans(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list plans: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleBillingOverview summarizes the backlog across customers.
func (h *Handlers) HandleBillingOverview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPendingEvents(ctx, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch backlog: %v", err)), nil
	}

	text, err := formatBacklog(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse backlog: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func formatSubscription(raw json.RawMessage) (string, error) {
	var resp struct {
		TenantState  string `json:"tenantState"`
		Subscription struct {
			ID                     string  `json:"id"`
			Plan                   string  `json:"plan"`
			ScheduledPlan          *string `json:"scheduledPlan"`
			ProviderCustomerID     string  `json:"providerCustomerId"`
			ProviderSubscriptionID string  `json:"providerSubscriptionId"`
			CurrentPeriodEnd       *string `json:"currentPeriodEnd"`
			CancelAtPeriodEnd      bool    `json:"cancelAtPeriodEnd"`
			FirstPaymentFailedAt   *string `json:"firstPaymentFailedAt"`
			DisputedAt             *string `json:"disputedAt"`
			RefundedAt             *string `json:"refundedAt"`
			CancellationReason     string  `json:"cancellationReason"`
			Transactions           []struct {
				ID          string `json:"id"`
				AmountCents int64  `json:"amountCents"`
				Currency    string `json:"currency"`
				Status      string `json:"status"`
				Date        string `json:"date"`
			} `json:"transactions"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	sub := resp.Subscription
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tenant state: %s\n", resp.TenantState)
	fmt.Fprintf(&sb, "Plan: %s", sub.Plan)
	if sub.ScheduledPlan != nil {
		fmt.Fprintf(&sb, " (downgrade to %s scheduled at period end)", *sub.ScheduledPlan)
	}
	sb.WriteString("\n")
	if sub.ProviderCustomerID != "" {
		fmt.Fprintf(&sb, "Provider customer: %s\n", sub.ProviderCustomerID)
	}
	if sub.ProviderSubscriptionID != "" {
		fmt.Fprintf(&sb, "Provider subscription: %s\n", sub.ProviderSubscriptionID)
	}
	if sub.CurrentPeriodEnd != nil {
		fmt.Fprintf(&sb, "Current period ends: %s", *sub.CurrentPeriodEnd)
		if sub.CancelAtPeriodEnd {
			sb.WriteString(" (cancels at period end)")
		}
		sb.WriteString("\n")
	}
	if sub.FirstPaymentFailedAt != nil {
		fmt.Fprintf(&sb, "PAYMENT FAILING since %s\n", *sub.FirstPaymentFailedAt)
	}
	if sub.DisputedAt != nil {
		fmt.Fprintf(&sb, "OPEN DISPUTE since %s\n", *sub.DisputedAt)
	}
	if sub.RefundedAt != nil {
		fmt.Fprintf(&sb, "Refund issued at %s\n", *sub.RefundedAt)
	}
	if sub.CancellationReason != "" {
		fmt.Fprintf(&sb, "Cancellation reason on file: %s\n", sub.CancellationReason)
	}
	if len(sub.Transactions) > 0 {
		sb.WriteString("\nRecent transactions:\n")
		for i, txn := range sub.Transactions {
			if i >= 5 {
				fmt.Fprintf(&sb, "  ... and %d more\n", len(sub.Transactions)-i)
				break
			}
			fmt.Fprintf(&sb, "  %s  %d %s  %s  %s\n",
				txn.Date, txn.AmountCents, strings.ToUpper(txn.Currency), txn.Status, txn.ID)
		}
	}
	return sb.String(), nil
}

func formatPendingEvents(raw json.RawMessage) (string, error) {
	var resp struct {
		Customer string `json:"customer"`
		Pending  []struct {
			ProviderEventID string `json:"providerEventId"`
			EventType       string `json:"eventType"`
			Kind            string `json:"kind"`
			ReceivedAt      string `json:"receivedAt"`
		} `json:"pending"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Pending) == 0 {
		return fmt.Sprintf("No pending events for customer %s.", resp.Customer), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending event(s) for customer %s:\n", len(resp.Pending), resp.Customer)
	for _, ev := range resp.Pending {
		fmt.Fprintf(&sb, "  %s  %s (%s)  %s\n", ev.ReceivedAt, ev.EventType, ev.Kind, ev.ProviderEventID)
	}
	sb.WriteString("\nUse trigger_reconciliation to process this batch.")
	return sb.String(), nil
}

func formatBacklog(raw json.RawMessage) (string, error) {
	var resp struct {
		Customers []string `json:"customers"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Customers) == 0 {
		return "No reconciliation backlog. All received events have been processed.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d customer(s) with pending events:\n", len(resp.Customers))
	for _, id := range resp.Customers {
		fmt.Fprintf(&sb, "  %s\n", id)
	}
	sb.WriteString("\nUse list_pending_events with a customer_id to inspect a batch.")
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
