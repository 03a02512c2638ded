package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/store"
)

// completedSession resolves sid, or the latest ended session when sid is
// empty, and checks it belongs to userID.
func completedSession(ctx context.Context, st *store.Store, userID, sid string) (*store.Transcript, error) {
	if sid == "" {
		list, err := st.ListTranscripts(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range list {
			if list[i].Ended() {
				return &list[i], nil
			}
		}
		return nil, errors.New("no completed session")
	}
	t, err := st.GetTranscript(ctx, sid)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sid, lerrors.ErrNotFound)
	}
	if !t.Ended() {
		return nil, fmt.Errorf("session %s is still open; end it first", sid)
	}
	return t, nil
}

// ArcSaveTool handles the arc_save MCP tool.
type ArcSaveTool struct {
	store  *store.Store
	userID string
}

// NewArcSaveTool creates an ArcSaveTool.
func NewArcSaveTool(st *store.Store, userID string) *ArcSaveTool {
	return &ArcSaveTool{store: st, userID: userID}
}

// Definition returns the MCP tool definition for arc_save.
func (t *ArcSaveTool) Definition() mcp.Tool {
	return mcp.NewTool("arc_save",
		mcp.WithDescription(
			"Replace the user's arc: the evolving markdown story of their coaching journey. "+
				"Send the whole document; every save creates a new version.",
		),
		mcp.WithString("markdown",
			mcp.Required(),
			mcp.Description("Full arc document in markdown"),
		),
	)
}

// Handle processes the arc_save tool call.
func (t *ArcSaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	md := req.GetString("markdown", "")
	if strings.TrimSpace(md) == "" {
		return mcp.NewToolResultError("'markdown' is required"), nil
	}
	arc, err := t.store.SaveArc(ctx, store.Arc{UserID: t.userID, Markdown: md})
	if err != nil {
		return failure("save arc", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Arc saved (version %d)", arc.Version)), nil
}

// ─── NotebookSaveTool ───────────────────────────────────────────────────────

// NotebookSaveTool handles the notebook_save MCP tool.
type NotebookSaveTool struct {
	store  *store.Store
	userID string
}

// NewNotebookSaveTool creates a NotebookSaveTool.
func NewNotebookSaveTool(st *store.Store, userID string) *NotebookSaveTool {
	return &NotebookSaveTool{store: st, userID: userID}
}

// Definition returns the MCP tool definition for notebook_save.
func (t *NotebookSaveTool) Definition() mcp.Tool {
	return mcp.NewTool("notebook_save",
		mcp.WithDescription(
			"Save the notebook of a completed session. A session has exactly one notebook; it cannot be changed later.",
		),
		mcp.WithString("markdown",
			mcp.Required(),
			mcp.Description("Notebook in markdown"),
		),
		mcp.WithString("session_id",
			mcp.Description("Completed session the notebook belongs to (default: the most recent one)"),
		),
	)
}

// Handle processes the notebook_save tool call.
func (t *NotebookSaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	md := req.GetString("markdown", "")
	if strings.TrimSpace(md) == "" {
		return mcp.NewToolResultError("'markdown' is required"), nil
	}
	tr, err := completedSession(ctx, t.store, t.userID, req.GetString("session_id", ""))
	if err != nil {
		return failure("find session", err), nil
	}
	err = t.store.SaveNotebook(ctx, store.Notebook{SessionID: tr.SessionID, UserID: t.userID, Markdown: md})
	if errors.Is(err, lerrors.ErrNotebookExists) {
		return mcp.NewToolResultError(fmt.Sprintf("session #%d already has a notebook", tr.SessionNumber)), nil
	}
	if err != nil {
		return failure("save notebook", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Notebook saved for session #%d", tr.SessionNumber)), nil
}

// ─── SummarySaveTool ────────────────────────────────────────────────────────

// SummarySaveTool handles the summary_save MCP tool.
type SummarySaveTool struct {
	store  *store.Store
	userID string
}

// NewSummarySaveTool creates a SummarySaveTool.
func NewSummarySaveTool(st *store.Store, userID string) *SummarySaveTool {
	return &SummarySaveTool{store: st, userID: userID}
}

// Definition returns the MCP tool definition for summary_save.
func (t *SummarySaveTool) Definition() mcp.Tool {
	return mcp.NewTool("summary_save",
		mcp.WithDescription(
			"Save the closing summary of a completed session. Action steps and open threads "+
				"of the latest summary are carried into the next session's context.",
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Short prose summary of the session"),
		),
		mcp.WithArray("action_steps",
			mcp.Description("Concrete steps the user committed to"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("open_threads",
			mcp.Description("Topics to pick up next time"),
			mcp.WithStringItems(),
		),
		mcp.WithString("recognition_moment",
			mcp.Description("Something the user did well"),
		),
		mcp.WithString("coach_notes",
			mcp.Description("Private notes for the coach"),
		),
		mcp.WithString("session_id",
			mcp.Description("Completed session (default: the most recent one)"),
		),
	)
}

// Handle processes the summary_save tool call.
func (t *SummarySaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("summary", "")
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("'summary' is required"), nil
	}
	tr, err := completedSession(ctx, t.store, t.userID, req.GetString("session_id", ""))
	if err != nil {
		return failure("find session", err), nil
	}
	sum := store.Summary{
		SessionID:         tr.SessionID,
		UserID:            t.userID,
		SummaryText:       text,
		RecognitionMoment: optionalString(req, "recognition_moment"),
		ActionSteps:       listArg(req, "action_steps"),
		OpenThreads:       listArg(req, "open_threads"),
		CoachNotes:        optionalString(req, "coach_notes"),
	}
	if err := t.store.SaveSummary(ctx, sum); err != nil {
		return failure("save summary", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Summary saved for session #%d (%d action steps, %d open threads)",
		tr.SessionNumber, len(sum.ActionSteps), len(sum.OpenThreads))), nil
}

// ─── ProviderKeySaveTool ────────────────────────────────────────────────────

// ProviderKeySaveTool handles the provider_key_save MCP tool.
type ProviderKeySaveTool struct {
	store *store.Store
}

// NewProviderKeySaveTool creates a ProviderKeySaveTool.
func NewProviderKeySaveTool(st *store.Store) *ProviderKeySaveTool {
	return &ProviderKeySaveTool{store: st}
}

// Definition returns the MCP tool definition for provider_key_save.
func (t *ProviderKeySaveTool) Definition() mcp.Tool {
	return mcp.NewTool("provider_key_save",
		mcp.WithDescription("Store a model provider API key in the vault. The key is never echoed back."),
		mcp.WithString("provider",
			mcp.Required(),
			mcp.Description("Provider name (e.g. 'anthropic')"),
		),
		mcp.WithString("api_key",
			mcp.Required(),
			mcp.Description("API key"),
		),
	)
}

// Handle processes the provider_key_save tool call.
func (t *ProviderKeySaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := strings.ToLower(strings.TrimSpace(req.GetString("provider", "")))
	key := strings.TrimSpace(req.GetString("api_key", ""))
	if provider == "" {
		return mcp.NewToolResultError("'provider' is required"), nil
	}
	if key == "" {
		return mcp.NewToolResultError("'api_key' is required"), nil
	}
	if err := t.store.SaveProviderKey(ctx, store.ProviderKey{Provider: provider, APIKey: key}); err != nil {
		return failure("save provider key", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Key for %s saved (ending …%s)", provider, lastN(key, 4))), nil
}

func lastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return strings.Repeat("*", len(r))
	}
	return string(r[len(r)-n:])
}
