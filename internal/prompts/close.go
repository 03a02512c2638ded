package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// ClosePrompt handles the coach-close MCP prompt.
// It ends the session and writes the records the next session builds on.
type ClosePrompt struct{}

// NewClosePrompt creates a ClosePrompt.
func NewClosePrompt() *ClosePrompt {
	return &ClosePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ClosePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("coach-close",
		mcp.WithPromptDescription(
			"Close the current coaching session and save its summary, notebook and the updated arc.",
		),
	)
}

// Handle processes the coach-close prompt request.
func (p *ClosePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Close coaching session",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Let's wrap up this session.\n\n" +
						"Please:\n" +
						"1. Run `session_end`\n" +
						"2. Run `summary_save` with a short summary, the action steps I committed to and any open threads\n" +
						"3. Run `notebook_save` with a markdown notebook of what we explored\n" +
						"4. Update my arc: read it from `session_context`, revise it, and save the whole document with `arc_save`\n" +
						"5. Tell me my action steps once more",
				),
			},
		},
	}, nil
}
