package tools

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenhq/lumen/internal/assembly"
	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/store"
	"github.com/lumenhq/lumen/internal/vault"
)

// SessionContextTool handles the session_context MCP tool.
type SessionContextTool struct {
	asm    *assembly.Assembler
	vault  *vault.Session
	userID string
}

// NewSessionContextTool creates a SessionContextTool.
func NewSessionContextTool(asm *assembly.Assembler, v *vault.Session, userID string) *SessionContextTool {
	return &SessionContextTool{asm: asm, vault: v, userID: userID}
}

// Definition returns the MCP tool definition for session_context.
func (t *SessionContextTool) Definition() mcp.Tool {
	return mcp.NewTool("session_context",
		mcp.WithDescription(
			"Assemble the coach's memory for the next model call: front matter, the arc, "+
				"session notebooks and past transcripts, fitted to a character budget.",
		),
		mcp.WithNumber("max_chars",
			mcp.Description("Character budget (default: derived from the model's context window)"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget; converted at 4 characters per token"),
		),
		mcp.WithString("model_id",
			mcp.Description("Model whose context window sets the budget"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone used for current_date (default: local)"),
		),
		mcp.WithNumber("seed",
			mcp.Description("Seed for the selection of older sessions, for reproducible output"),
		),
	)
}

// Handle processes the session_context tool call.
func (t *SessionContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r := assembly.Request{
		UserID: t.userID,
		Budget: assembly.Budget{
			MaxChars:  intArg(req, "max_chars", 0),
			MaxTokens: intArg(req, "max_tokens", 0),
			ModelID:   req.GetString("model_id", ""),
		},
	}
	if tz := req.GetString("timezone", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("unknown timezone %q", tz)), nil
		}
		r.Location = loc
	}
	if _, ok := req.GetArguments()["seed"]; ok {
		seed := uint64(intArg(req, "seed", 0))
		r.Rand = rand.New(rand.NewPCG(seed, seed))
	}

	t.vault.Touch()
	res, err := t.asm.Build(ctx, r)
	if err != nil {
		return failure("assemble context", err), nil
	}

	result := mcp.NewToolResultText(res.Text)
	if len(res.Unreadable) > 0 {
		result.Content = append(result.Content, mcp.NewTextContent(fmt.Sprintf(
			"Note: %d earlier session(s) could not be read and were left out: %s",
			len(res.Unreadable), strings.Join(res.Unreadable, ", "))))
	}
	return result, nil
}

// ─── SessionTranscriptTool ──────────────────────────────────────────────────

// SessionTranscriptTool handles the session_transcript MCP tool.
type SessionTranscriptTool struct {
	store  *store.Store
	vault  *vault.Session
	userID string
}

// NewSessionTranscriptTool creates a SessionTranscriptTool.
func NewSessionTranscriptTool(st *store.Store, v *vault.Session, userID string) *SessionTranscriptTool {
	return &SessionTranscriptTool{store: st, vault: v, userID: userID}
}

// Definition returns the MCP tool definition for session_transcript.
func (t *SessionTranscriptTool) Definition() mcp.Tool {
	return mcp.NewTool("session_transcript",
		mcp.WithDescription("Read back the decrypted transcript of one session."),
		mcp.WithString("session_id",
			mcp.Description("Session to read (default: the most recent session)"),
		),
	)
}

// Handle processes the session_transcript tool call.
func (t *SessionTranscriptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid := req.GetString("session_id", "")
	var tr *store.Transcript
	if sid == "" {
		list, err := t.store.ListTranscripts(ctx, t.userID)
		if err != nil {
			return failure("list sessions", err), nil
		}
		if len(list) == 0 {
			return mcp.NewToolResultText("No sessions recorded yet."), nil
		}
		tr = &list[0]
	} else {
		got, err := t.store.GetTranscript(ctx, sid)
		if errors.Is(err, lerrors.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("session %q not found", sid)), nil
		}
		if err != nil {
			return failure("read session", err), nil
		}
		if got.UserID != t.userID {
			return mcp.NewToolResultError(fmt.Sprintf("session %q not found", sid)), nil
		}
		tr = got
	}

	t.vault.Touch()
	msgs, err := t.store.ReadTranscriptMessages(ctx, tr.SessionID)
	if err != nil {
		return failure("read transcript", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session #%d (%s)\n", tr.SessionNumber, tr.StartedAt.Format(time.RFC3339))
	if tr.Ended() {
		fmt.Fprintf(&b, "Ended: %s\n", tr.EndedAt.Format(time.RFC3339))
	} else {
		b.WriteString("Status: open\n")
	}
	if len(msgs) == 0 {
		b.WriteString("\nNo messages recorded.\n")
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n**%s:** %s\n", m.Role, m.Content)
	}
	return mcp.NewToolResultText(b.String()), nil
}
