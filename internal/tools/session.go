package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenhq/lumen/internal/transcript"
)

// SessionStartTool handles the session_start MCP tool.
type SessionStartTool struct {
	sessions *Sessions
}

// NewSessionStartTool creates a SessionStartTool.
func NewSessionStartTool(s *Sessions) *SessionStartTool {
	return &SessionStartTool{sessions: s}
}

// Definition returns the MCP tool definition for session_start.
func (t *SessionStartTool) Definition() mcp.Tool {
	return mcp.NewTool("session_start",
		mcp.WithDescription(
			"Start a coaching session, or resume the one still open. "+
				"Call session_context afterwards to load what the coach should remember.",
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone of the user (e.g. 'Europe/Berlin')"),
		),
		mcp.WithString("locale_hint",
			mcp.Description("Locale of the user (e.g. 'de-DE')"),
		),
		mcp.WithString("system_prompt_version",
			mcp.Description("Version tag of the coach prompt in use"),
		),
	)
}

// Handle processes the session_start tool call.
func (t *SessionStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tz := req.GetString("timezone", "")
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("unknown timezone %q", tz)), nil
		}
	}
	tr, resumed, err := t.sessions.Start(ctx, StartParams{
		Timezone:            tz,
		LocaleHint:          req.GetString("locale_hint", ""),
		SystemPromptVersion: req.GetString("system_prompt_version", ""),
	})
	if err != nil {
		return failure("start session", err), nil
	}

	verb := "Started"
	if resumed {
		verb = "Resumed"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s session #%d\nID: %s\nStarted at: %s",
		verb, tr.SessionNumber, tr.SessionID, tr.StartedAt.Format(time.RFC3339))), nil
}

// ─── SessionAppendTool ──────────────────────────────────────────────────────

// SessionAppendTool handles the session_append MCP tool.
type SessionAppendTool struct {
	sessions *Sessions
}

// NewSessionAppendTool creates a SessionAppendTool.
func NewSessionAppendTool(s *Sessions) *SessionAppendTool {
	return &SessionAppendTool{sessions: s}
}

// Definition returns the MCP tool definition for session_append.
func (t *SessionAppendTool) Definition() mcp.Tool {
	return mcp.NewTool("session_append",
		mcp.WithDescription("Record one message of the active session in the encrypted transcript."),
		mcp.WithString("role",
			mcp.Required(),
			mcp.Description("Who spoke: user or coach"),
			mcp.Enum(string(transcript.RoleUser), string(transcript.RoleCoach)),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message text"),
		),
		mcp.WithString("timestamp",
			mcp.Description("RFC 3339 time the message was sent (default: now)"),
		),
	)
}

// Handle processes the session_append tool call.
func (t *SessionAppendTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role := transcript.Role(req.GetString("role", ""))
	content := req.GetString("content", "")
	if !role.Valid() {
		return mcp.NewToolResultError("'role' must be 'user' or 'coach'"), nil
	}
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}

	msg := transcript.Message{Role: role, Content: content}
	if ts := req.GetString("timestamp", ""); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid 'timestamp': %v", err)), nil
		}
		msg.Timestamp = parsed
	}

	out, err := t.sessions.Append(ctx, msg)
	if err != nil {
		return failure("append message", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Recorded %s message %s", out[0].Role, out[0].ID)), nil
}

// ─── SessionEndTool ─────────────────────────────────────────────────────────

// SessionEndTool handles the session_end MCP tool.
type SessionEndTool struct {
	sessions *Sessions
}

// NewSessionEndTool creates a SessionEndTool.
func NewSessionEndTool(s *Sessions) *SessionEndTool {
	return &SessionEndTool{sessions: s}
}

// Definition returns the MCP tool definition for session_end.
func (t *SessionEndTool) Definition() mcp.Tool {
	return mcp.NewTool("session_end",
		mcp.WithDescription(
			"Close the active session. Afterwards save a notebook with notebook_save "+
				"and update the arc with arc_save.",
		),
	)
}

// Handle processes the session_end tool call.
func (t *SessionEndTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.sessions.End(ctx)
	if err != nil {
		return failure("end session", err), nil
	}
	text := fmt.Sprintf("Ended session #%d\nID: %s", res.Transcript.SessionNumber, res.Transcript.SessionID)
	if res.TranscriptHash != "" {
		text += "\nTranscript hash: " + res.TranscriptHash
	}
	return mcp.NewToolResultText(text), nil
}
