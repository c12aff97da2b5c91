package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all workload tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(gomcp.NewTool("workload_status",
		gomcp.WithDescription("Get current workload status: supervisor state, chain, head block, load config, last cycle TPS, failure rate and latency."),
	), statusHandler(client))

	s.AddTool(gomcp.NewTool("workload_health",
		gomcp.WithDescription("Readiness check for the workload. Probes geth JSON-RPC connectivity."),
	), healthHandler(client))

	s.AddTool(gomcp.NewTool("workload_history",
		gomcp.WithDescription("List completed load cycles, newest first."),
		gomcp.WithNumber("limit",
			gomcp.Description("Number of cycles to return (1-100, default 10)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Number of cycles to skip (default 0)"),
		),
	), historyHandler(client))

	s.AddTool(gomcp.NewTool("workload_cycle",
		gomcp.WithDescription("Get one completed load cycle with its full window metrics."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Cycle ID from workload_history"),
		),
	), cycleHandler(client))
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Workload unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	}
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Workload unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	}
}

func historyHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/history?limit=%d&offset=%d", limit, offset)

		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	}
}

func cycleHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || id == "" {
			return gomcp.NewToolResultError("id is required"), nil
		}

		raw, err := client.Get(ctx, "/v1/history/"+url.PathEscape(id))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Cycle lookup failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatCycle(raw)), nil
	}
}

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	lines := joinLines(
		section("Workload Status"),
		kv("State", getStr(m, "state")),
		kv("Geth", getStr(m, "gethUrl")),
		kv("Chain ID", formatNumber(getNum(m, "chainId"))),
		kv("Head Block", formatNumber(getNum(m, "headBlock"))),
		kv("Sender", getStr(m, "senderAddress")),
		kv("Cycles", formatNumber(getNum(m, "cyclesCompleted"))),
		kv("Restarts", formatNumber(getNum(m, "restarts"))),
		kv("Uptime", formatSeconds(getNum(m, "uptimeSeconds"))),
	)

	if lastErr := getStr(m, "lastError"); lastErr != "" {
		lines += "\n" + kv("Last Error", lastErr)
	}

	if cfg, ok := m["config"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Load Config"),
			kv("Target TPS", formatNumber(getNum(cfg, "targetTps"))),
			kv("Concurrency", formatNumber(getNum(cfg, "concurrency"))),
			kv("Cycle Duration", time.Duration(getNum(cfg, "cycleDurationNs")).String()),
		)
	}

	if w, ok := m["lastWindow"].(map[string]any); ok {
		lines += "\n\n" + section("Last Cycle") + "\n" + formatWindow(w)
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Workload Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			check, ok := c.(map[string]any)
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %-15s %s (%dms)", getStr(check, "name"), getStr(check, "status"), int64(getNum(check, "latency_ms")))
			if errMsg := getStr(check, "error"); errMsg != "" {
				line += " - " + errMsg
			}
			lines += "\n" + line
		}
	}

	return lines
}

func formatHistory(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	lines := joinLines(
		section("Cycle History"),
		kv("Total Cycles", formatNumber(getNum(m, "total"))),
	) + "\n\n"

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		return lines + "No cycles recorded."
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines += fmt.Sprintf("### %s\n", getStr(run, "id"))
		lines += joinLines(
			kv("Started", formatTime(getStr(run, "startedAt"))),
			kv("Target", fmt.Sprintf("%s TPS x %s workers", formatNumber(getNum(run, "targetTps")), formatNumber(getNum(run, "concurrency")))),
			kv("Sent / Failed", fmt.Sprintf("%s / %s", formatNumber(getNum(run, "txSent")), formatNumber(getNum(run, "txFailed")))),
			kv("TPS", fmt.Sprintf("%.2f", getNum(run, "tps"))),
			kv("Failure Rate", formatPct(getNum(run, "failureRate")*100)),
		)
		lines += "\n\n"
	}

	return lines
}

func formatCycle(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing cycle: %v", err)
	}

	lines := joinLines(
		section("Cycle "+getStr(m, "id")),
		kv("Started", formatTime(getStr(m, "startedAt"))),
		kv("Completed", formatTime(getStr(m, "completedAt"))),
		kv("Chain ID", formatNumber(getNum(m, "chainId"))),
		kv("Sender", getStr(m, "senderAddress")),
		kv("Target TPS", formatNumber(getNum(m, "targetTps"))),
		kv("Concurrency", formatNumber(getNum(m, "concurrency"))),
		kv("Duration", formatMs(getNum(m, "durationMs"))),
		kv("Elapsed", formatMs(getNum(m, "elapsedMs"))),
	)
	if clamped, _ := m["clamped"].(bool); clamped {
		lines += "\n" + kv("Rate", "clamped to 1 TPS per worker")
	}

	if w, ok := m["window"].(map[string]any); ok {
		lines += "\n\n" + section("Window Metrics") + "\n" + formatWindow(w)
	}

	return lines
}

// formatWindow renders a WindowMetrics object. Latencies are in nanoseconds.
func formatWindow(w map[string]any) string {
	return joinLines(
		kv("Sent", formatNumber(getNum(w, "sent"))),
		kv("Failed", formatNumber(getNum(w, "failed"))),
		kv("TPS", fmt.Sprintf("%.2f", getNum(w, "tps"))),
		kv("RPC RPS", fmt.Sprintf("%.2f", getNum(w, "rps"))),
		kv("MGas/s", fmt.Sprintf("%.3f", getNum(w, "mgasPerSec"))),
		kv("Failure Rate", formatPct(getNum(w, "failureRate")*100)),
		kv("Avg Latency", formatMs(nsToMs(getNum(w, "avgLatencyNs")))),
		kv("P50 Latency", formatMs(nsToMs(getNum(w, "p50LatencyNs")))),
		kv("P95 Latency", formatMs(nsToMs(getNum(w, "p95LatencyNs")))),
		kv("P99 Latency", formatMs(nsToMs(getNum(w, "p99LatencyNs")))),
	)
}

func getStr(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
