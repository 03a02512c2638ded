package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenhq/lumen/internal/outbox"
)

// OutboxStatusTool handles the outbox_status MCP tool.
type OutboxStatusTool struct {
	queue *outbox.Queue
}

// NewOutboxStatusTool creates an OutboxStatusTool.
func NewOutboxStatusTool(q *outbox.Queue) *OutboxStatusTool {
	return &OutboxStatusTool{queue: q}
}

// Definition returns the MCP tool definition for outbox_status.
func (t *OutboxStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("outbox_status",
		mcp.WithDescription("List session start/end notifications waiting for delivery."),
	)
}

// Handle processes the outbox_status tool call.
func (t *OutboxStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events, err := t.queue.List(ctx)
	if err != nil {
		return failure("list outbox", err), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("Outbox is empty."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d queued event(s):\n", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s %s [%s] attempts=%d next=%s",
			ev.Type, ev.SessionID, ev.Status, ev.Attempts, ev.AvailableAt.Format(time.RFC3339))
		if ev.LastError != "" {
			fmt.Fprintf(&b, " error=%q", ev.LastError)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
