// Lumen: encrypted vault for coaching conversations.
//
// Usage:
//
//	lumen serve              # Start MCP server (stdio transport)
//	lumen setup              # Create the vault
//	lumen context --user ID  # Print the assembled session context
//	lumen history --user ID  # List past sessions
//	lumen version
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
