// Workload MCP server.
// Exposes workload status and cycle history over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/workload/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	workloadURL := os.Getenv("WORKLOAD_URL")
	if workloadURL == "" {
		workloadURL = "http://localhost:8000"
	}

	s := server.NewMCPServer(
		"workload",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(workloadURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
