package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenhq/lumen/internal/transcript"
	"github.com/lumenhq/lumen/internal/vault"
)

// minPassphraseLen is the shortest passphrase vault_setup accepts.
const minPassphraseLen = 8

// VaultStatusTool handles the vault_status MCP tool.
type VaultStatusTool struct {
	vault *vault.Session
	rec   *transcript.Recorder
}

// NewVaultStatusTool creates a VaultStatusTool.
func NewVaultStatusTool(v *vault.Session, rec *transcript.Recorder) *VaultStatusTool {
	return &VaultStatusTool{vault: v, rec: rec}
}

// Definition returns the MCP tool definition for vault_status.
func (t *VaultStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("vault_status",
		mcp.WithDescription("Report whether the vault is uninitialized, locked or unlocked, and the active session if any."),
	)
}

// Handle processes the vault_status tool call.
func (t *VaultStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := t.vault.State(ctx)
	if err != nil {
		return failure("read vault state", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Vault: %s\n", state)
	if meta, ok := t.vault.Metadata(); ok {
		fmt.Fprintf(&b, "Cipher: %s\nKDF iterations: %d\nEncryption version: %s\n",
			meta.Cipher, meta.KDFIterations, meta.EncryptionVersion)
	}
	if sid := t.rec.SessionID(); sid != "" {
		fmt.Fprintf(&b, "Active session: %s (%d buffered)\n", sid, t.rec.Pending())
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── VaultSetupTool ─────────────────────────────────────────────────────────

// VaultSetupTool handles the vault_setup MCP tool.
type VaultSetupTool struct {
	vault *vault.Session
}

// NewVaultSetupTool creates a VaultSetupTool.
func NewVaultSetupTool(v *vault.Session) *VaultSetupTool {
	return &VaultSetupTool{vault: v}
}

// Definition returns the MCP tool definition for vault_setup.
func (t *VaultSetupTool) Definition() mcp.Tool {
	return mcp.NewTool("vault_setup",
		mcp.WithDescription(
			"Create the encrypted vault with a passphrase. The passphrase cannot be recovered; "+
				"losing it makes every stored session unreadable.",
		),
		mcp.WithString("passphrase",
			mcp.Required(),
			mcp.Description("Vault passphrase (at least 8 characters)"),
		),
	)
}

// Handle processes the vault_setup tool call.
func (t *VaultSetupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pass := req.GetString("passphrase", "")
	if len([]rune(pass)) < minPassphraseLen {
		return mcp.NewToolResultError(fmt.Sprintf("'passphrase' must be at least %d characters", minPassphraseLen)), nil
	}
	if err := t.vault.Setup(ctx, pass); err != nil {
		return failure("set up vault", err), nil
	}
	return mcp.NewToolResultText("Vault created and unlocked."), nil
}

// ─── VaultUnlockTool ────────────────────────────────────────────────────────

// VaultUnlockTool handles the vault_unlock MCP tool.
type VaultUnlockTool struct {
	vault *vault.Session
}

// NewVaultUnlockTool creates a VaultUnlockTool.
func NewVaultUnlockTool(v *vault.Session) *VaultUnlockTool {
	return &VaultUnlockTool{vault: v}
}

// Definition returns the MCP tool definition for vault_unlock.
func (t *VaultUnlockTool) Definition() mcp.Tool {
	return mcp.NewTool("vault_unlock",
		mcp.WithDescription("Unlock the vault for this process. The key stays in memory until vault_lock or the idle timeout."),
		mcp.WithString("passphrase",
			mcp.Required(),
			mcp.Description("Vault passphrase"),
		),
	)
}

// Handle processes the vault_unlock tool call.
func (t *VaultUnlockTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pass := req.GetString("passphrase", "")
	if pass == "" {
		return mcp.NewToolResultError("'passphrase' is required"), nil
	}
	if t.vault.IsUnlocked() {
		return mcp.NewToolResultText("Vault is already unlocked."), nil
	}
	if err := t.vault.Unlock(ctx, pass); err != nil {
		return failure("unlock vault", err), nil
	}
	return mcp.NewToolResultText("Vault unlocked."), nil
}

// ─── VaultLockTool ──────────────────────────────────────────────────────────

// VaultLockTool handles the vault_lock MCP tool.
type VaultLockTool struct {
	vault *vault.Session
}

// NewVaultLockTool creates a VaultLockTool.
func NewVaultLockTool(v *vault.Session) *VaultLockTool {
	return &VaultLockTool{vault: v}
}

// Definition returns the MCP tool definition for vault_lock.
func (t *VaultLockTool) Definition() mcp.Tool {
	return mcp.NewTool("vault_lock",
		mcp.WithDescription("Flush any buffered transcript messages and clear the vault key from memory."),
	)
}

// Handle processes the vault_lock tool call.
func (t *VaultLockTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !t.vault.IsUnlocked() {
		return mcp.NewToolResultText("Vault is already locked."), nil
	}
	t.vault.Lock(ctx)
	return mcp.NewToolResultText("Vault locked."), nil
}
