// Package resources implements MCP resource handlers for the vault.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (lumen://...) following MCP conventions.
// Nothing here needs the vault key.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenhq/lumen/internal/outbox"
	"github.com/lumenhq/lumen/internal/transcript"
	"github.com/lumenhq/lumen/internal/vault"
)

// StatusURI addresses the vault status resource.
const StatusURI = "lumen://vault/status"

// Status is the JSON body of the status resource.
type Status struct {
	UserID        string `json:"user_id"`
	Vault         string `json:"vault"`
	ActiveSession string `json:"active_session,omitempty"`
	Buffered      int    `json:"buffered_messages"`
	OutboxPending int    `json:"outbox_pending"`
	OutboxFailed  int    `json:"outbox_failed"`
}

// Handler manages vault resource endpoints.
type Handler struct {
	userID string
	vault  *vault.Session
	rec    *transcript.Recorder
	queue  *outbox.Queue
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(userID string, v *vault.Session, rec *transcript.Recorder, q *outbox.Queue) *Handler {
	return &Handler{userID: userID, vault: v, rec: rec, queue: q}
}

// StatusResource returns the MCP resource definition for vault status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		StatusURI,
		"Vault Status",
		mcp.WithResourceDescription("Lock state, active session and outbox backlog"),
		mcp.WithMIMEType("application/json"),
	)
}

// Status collects the current status.
func (h *Handler) Status(ctx context.Context) (*Status, error) {
	state, err := h.vault.State(ctx)
	if err != nil {
		return nil, err
	}
	events, err := h.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		UserID:        h.userID,
		Vault:         state.String(),
		ActiveSession: h.rec.SessionID(),
		Buffered:      h.rec.Pending(),
	}
	for _, ev := range events {
		switch ev.Status {
		case outbox.StatusPending:
			st.OutboxPending++
		case outbox.StatusFailed:
			st.OutboxFailed++
		}
	}
	return st, nil
}

// HandleStatus returns the current status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := h.Status(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
