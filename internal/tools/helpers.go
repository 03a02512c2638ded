// Package tools provides the MCP tool handlers that expose the vault,
// the session lifecycle and context assembly.
//
// Each handler follows the same pattern:
// - A struct with its dependencies injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Domain failures are returned as tool error results, never as Go errors.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	lerrors "github.com/lumenhq/lumen/internal/errors"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// listArg reads a string array argument. A plain string is split on
// newlines so clients without array support can still send lists.
func listArg(req mcp.CallToolRequest, key string) []string {
	switch v := req.GetArguments()[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, line := range strings.Split(v, "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
			if line != "" {
				out = append(out, line)
			}
		}
		return out
	default:
		return nil
	}
}

// optionalString returns nil for an empty argument.
func optionalString(req mcp.CallToolRequest, key string) *string {
	v := strings.TrimSpace(req.GetString(key, ""))
	if v == "" {
		return nil
	}
	return &v
}

// failure turns err into a tool error result with a hint for the states a
// client can act on.
func failure(action string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("failed to %s: %v", action, err)
	switch {
	case errors.Is(err, lerrors.ErrVaultLocked):
		msg += "\nUnlock the vault with vault_unlock first."
	case errors.Is(err, lerrors.ErrVaultNotInitialized):
		msg += "\nCreate the vault with vault_setup first."
	case errors.Is(err, lerrors.ErrIntegrity), errors.Is(err, lerrors.ErrAuthentication):
		msg += "\nThe stored record is damaged and cannot be read."
	}
	return mcp.NewToolResultError(msg)
}
