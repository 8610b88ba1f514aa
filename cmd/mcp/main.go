// Paydrift MCP Server - Exposes billing operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/paydrift/paydrift/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:      envOrDefault("PAYDRIFT_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("PAYDRIFT_ADMIN_SECRET"),
	}

	if cfg.AdminSecret == "" {
		fmt.Fprintln(os.Stderr, "PAYDRIFT_ADMIN_SECRET is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
