package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Paydrift MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetSubscription = mcp.NewTool("get_subscription",
	mcp.WithDescription(
		"Look up a tenant's subscription: plan, tenant state (active/past_due/suspended), "+
			"billing markers (payment failure, dispute, refund), scheduled downgrade, "+
			"and recent payment transactions. Use this first when investigating a billing issue."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID (e.g. 'tnt_...')")),
)

var ToolListPendingEvents = mcp.NewTool("list_pending_events",
	mcp.WithDescription(
		"List provider webhook events that have been received but not yet reconciled. "+
			"With a customer ID, shows that customer's pending batch in arrival order; "+
			"without one, lists every customer that has a backlog. "+
			"A persistent backlog usually means reconciliation passes are failing for that customer."),
	mcp.WithString("customer_id",
		mcp.Description("Payment provider customer ID (e.g. 'cus_...'). Omit to list all customers with pending events.")),
)

var ToolTriggerReconciliation = mcp.NewTool("trigger_reconciliation",
	mcp.WithDescription(
		"Run a reconciliation pass for one customer right now. "+
			"The pass re-pulls canonical subscription state from the payment provider, applies it, "+
			"runs any outstanding side effects, and marks the customer's pending events processed. "+
			"Safe to run at any time; a pass with nothing pending is a no-op."),
	mcp.WithString("customer_id",
		mcp.Required(),
		mcp.Description("Payment provider customer ID (e.g. 'cus_...')")),
)

var ToolListPlans = mcp.NewTool("list_plans",
	mcp.WithDescription(
		"List the purchasable plans with their current prices and feature limits."),
)

var ToolBillingOverview = mcp.NewTool("billing_overview",
	mcp.WithDescription(
		"Summarize the reconciliation backlog: which customers have unprocessed events. "+
			"Use this to spot stuck customers before drilling in with list_pending_events."),
)
