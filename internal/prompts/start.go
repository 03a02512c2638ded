// Package prompts implements MCP prompt handlers for coaching sessions.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the coach-start MCP prompt.
// It opens a session and loads the coach's memory before the first reply.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("coach-start",
		mcp.WithPromptDescription(
			"Start a coaching session. Unlocks the vault if needed, opens a session "+
				"and loads what the coach remembers from earlier sessions.",
		),
		mcp.WithArgument("timezone",
			mcp.ArgumentDescription("Your IANA timezone, e.g. Europe/Berlin"),
		),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("What you want to talk about today (optional)"),
		),
	)
}

// Handle processes the coach-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	tz := req.Params.Arguments["timezone"]
	topic := req.Params.Arguments["topic"]

	startCall := "`session_start`"
	if tz != "" {
		startCall = fmt.Sprintf("`session_start` with timezone='%s'", tz)
	}
	opening := "Then ask me what I would like to focus on today."
	if topic != "" {
		opening = fmt.Sprintf("Today I want to talk about: %s", topic)
	}

	return &mcp.GetPromptResult{
		Description: "Start coaching session",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Let's start a coaching session.\n\n"+
						"Please:\n"+
						"1. Run `vault_status`. If the vault is locked, ask me for my passphrase and run `vault_unlock`\n"+
						"2. Run %s\n"+
						"3. Run `session_context` and use it as your memory of our earlier sessions\n"+
						"4. Record every message we exchange with `session_append` (role 'user' or 'coach')\n\n"+
						"%s",
					startCall, opening,
				)),
			},
		},
	}, nil
}
