package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewPaydriftClient(Config{
		APIURL:      ts.URL,
		AdminSecret: "admin_test_secret",
	})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_AdminSecretHeader(t *testing.T) {
	var gotSecret string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Admin-Secret")
		_, _ = w.Write([]byte(`{"customers":[]}`))
	}))
	defer ts.Close()

	client := NewPaydriftClient(Config{APIURL: ts.URL, AdminSecret: "sec_123"})
	_, err := client.ListPendingEvents(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "sec_123", gotSecret)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "lock_timeout",
			"message": "Another pass holds the customer lock; retry shortly",
		})
	}))
	defer ts.Close()

	client := NewPaydriftClient(Config{APIURL: ts.URL})
	_, err := client.TriggerReconciliation(context.Background(), "cus_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "Another pass holds the customer lock")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewPaydriftClient(Config{APIURL: ts.URL})
	_, err := client.ListPlans(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewPaydriftClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListPlans(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetSubscription_RequiresTenantID(t *testing.T) {
	h, closeFn := newTestSetup(http.NotFoundHandler())
	defer closeFn()

	result, err := h.HandleGetSubscription(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "tenant_id is required")
}

func TestHandleGetSubscription_FormatsBillingState(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tenants/tnt_1/subscription", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenantState": "past_due",
			"subscription": map[string]any{
				"id":                     "sub_1",
				"plan":                   "standard",
				"providerCustomerId":     "cus_1",
				"providerSubscriptionId": "sub_stripe_1",
				"firstPaymentFailedAt":   "2026-08-20T10:00:00Z",
				"cancellationReason":     "",
				"transactions": []map[string]any{
					{"id": "in_1", "amountCents": 4900, "currency": "eur", "status": "failed", "date": "2026-08-20T10:00:00Z"},
				},
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleGetSubscription(context.Background(), makeRequest(map[string]any{"tenant_id": "tnt_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Tenant state: past_due")
	assert.Contains(t, text, "Plan: standard")
	assert.Contains(t, text, "PAYMENT FAILING since 2026-08-20T10:00:00Z")
	assert.Contains(t, text, "EUR")
}

func TestHandleListPendingEvents_PerCustomer(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/admin/events", r.URL.Path)
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"customer": "cus_1",
			"pending": []map[string]any{
				{"providerEventId": "evt_1", "eventType": "invoice.payment_failed", "kind": "payment_failed", "receivedAt": "2026-08-20T10:00:00Z"},
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleListPendingEvents(context.Background(), makeRequest(map[string]any{"customer_id": "cus_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "1 pending event(s) for customer cus_1")
	assert.Contains(t, text, "invoice.payment_failed")
	assert.Contains(t, text, "trigger_reconciliation")
}

func TestHandleListPendingEvents_EmptyBacklog(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"customers": []string{}})
	}))
	defer closeFn()

	result, err := h.HandleListPendingEvents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No reconciliation backlog")
}

func TestHandleTriggerReconciliation(t *testing.T) {
	var gotPath string
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"reconciled": true})
	}))
	defer closeFn()

	result, err := h.HandleTriggerReconciliation(context.Background(), makeRequest(map[string]any{"customer_id": "cus_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "/api/v1/admin/reconcile/cus_1", gotPath)
	assert.Contains(t, resultText(t, result), "completed for customer cus_1")
}

func TestHandleTriggerReconciliation_RequiresCustomerID(t *testing.T) {
	h, closeFn := newTestSetup(http.NotFoundHandler())
	defer closeFn()

	result, err := h.HandleTriggerReconciliation(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleBillingOverview(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"customers": []string{"cus_1", "cus_2"}})
	}))
	defer closeFn()

	result, err := h.HandleBillingOverview(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 customer(s) with pending events")
	assert.Contains(t, text, "cus_1")
}

func TestNewMCPServer(t *testing.T) {
	srv := NewMCPServer(Config{APIURL: "http://localhost:8080", AdminSecret: "s"})
	require.NotNil(t, srv)
}
