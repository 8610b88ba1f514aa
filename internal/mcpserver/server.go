package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Paydrift tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("paydrift", "1.0.0")
	client := NewPaydriftClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetSubscription, h.HandleGetSubscription)
	s.AddTool(ToolListPendingEvents, h.HandleListPendingEvents)
	s.AddTool(ToolTriggerReconciliation, h.HandleTriggerReconciliation)
	s.AddTool(ToolListPlans, h.HandleListPlans)
	s.AddTool(ToolBillingOverview, h.HandleBillingOverview)

	return s
}
