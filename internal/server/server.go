// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources. No business logic
// lives here, only wiring.
package server

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/lumenhq/lumen/internal/config"
	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/prompts"
	"github.com/lumenhq/lumen/internal/resources"
	"github.com/lumenhq/lumen/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server for the configured user with
// all tools, prompts and resources registered.
//
// The returned cleanup function flushes and locks the vault and closes the
// store. It must be called on shutdown (typically via defer).
func New(cfg config.Config, log logging.Logger) (*server.MCPServer, func(), error) {
	app, err := Open(cfg, "", log)
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		if err := app.Close(context.Background()); err != nil {
			log.Warnf("closing store: %v", err)
		}
	}
	return newMCPServer(app), cleanup, nil
}

func newMCPServer(app *App) *server.MCPServer {
	s := server.NewMCPServer(
		"lumen",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Vault ---

	vaultStatus := tools.NewVaultStatusTool(app.Vault, app.Recorder)
	s.AddTool(vaultStatus.Definition(), vaultStatus.Handle)

	vaultSetup := tools.NewVaultSetupTool(app.Vault)
	s.AddTool(vaultSetup.Definition(), vaultSetup.Handle)

	vaultUnlock := tools.NewVaultUnlockTool(app.Vault)
	s.AddTool(vaultUnlock.Definition(), vaultUnlock.Handle)

	vaultLock := tools.NewVaultLockTool(app.Vault)
	s.AddTool(vaultLock.Definition(), vaultLock.Handle)

	// --- Session lifecycle ---

	sessionStart := tools.NewSessionStartTool(app.Sessions)
	s.AddTool(sessionStart.Definition(), sessionStart.Handle)

	sessionAppend := tools.NewSessionAppendTool(app.Sessions)
	s.AddTool(sessionAppend.Definition(), sessionAppend.Handle)

	sessionEnd := tools.NewSessionEndTool(app.Sessions)
	s.AddTool(sessionEnd.Definition(), sessionEnd.Handle)

	// --- Context and history ---

	sessionContext := tools.NewSessionContextTool(app.Assembler, app.Vault, app.UserID)
	s.AddTool(sessionContext.Definition(), sessionContext.Handle)

	sessionTranscript := tools.NewSessionTranscriptTool(app.Store, app.Vault, app.UserID)
	s.AddTool(sessionTranscript.Definition(), sessionTranscript.Handle)

	// --- Records ---

	arcSave := tools.NewArcSaveTool(app.Store, app.UserID)
	s.AddTool(arcSave.Definition(), arcSave.Handle)

	notebookSave := tools.NewNotebookSaveTool(app.Store, app.UserID)
	s.AddTool(notebookSave.Definition(), notebookSave.Handle)

	summarySave := tools.NewSummarySaveTool(app.Store, app.UserID)
	s.AddTool(summarySave.Definition(), summarySave.Handle)

	providerKeySave := tools.NewProviderKeySaveTool(app.Store)
	s.AddTool(providerKeySave.Definition(), providerKeySave.Handle)

	outboxStatus := tools.NewOutboxStatusTool(app.Outbox)
	s.AddTool(outboxStatus.Definition(), outboxStatus.Handle)

	// --- Prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	closePrompt := prompts.NewClosePrompt()
	s.AddPrompt(closePrompt.Definition(), closePrompt.Handle)

	// --- Resources ---

	resourceHandler := resources.NewHandler(app.UserID, app.Vault, app.Recorder, app.Outbox)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	return s
}

// noop is the cleanup returned when wiring fails.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use lumen.
func serverInstructions() string {
	return `You have access to lumen, an encrypted vault for coaching conversations.

## Vault
Everything the user says is stored encrypted under a key derived from their
passphrase. The key lives only in this process and is dropped on vault_lock
or after a period of inactivity.

- Call vault_status first. If the vault is uninitialized, help the user pick a
  passphrase and call vault_setup. If it is locked, ask for the passphrase and
  call vault_unlock.
- Never repeat the passphrase or a provider key back to the user.

## Sessions
1. session_start opens a session (or resumes the one still open)
2. session_context returns your memory: front matter, the user's arc, past
   notebooks and transcripts. Read it before your first reply
3. session_append records each message, role 'user' or 'coach'
4. session_end closes the session
5. summary_save, notebook_save and arc_save write what the next session
   builds on

If session_context reports sessions that could not be read, tell the user
part of their history is unavailable. Do not guess what it contained.`
}
