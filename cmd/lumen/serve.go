package main

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	lumenserver "github.com/lumenhq/lumen/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if c.userID != "" {
				cfg.UserID = c.userID
			}
			s, cleanup, err := lumenserver.New(cfg, c.log)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			c.log.Infof("serving vault of %s over stdio", cfg.UserID)
			return server.ServeStdio(s)
		},
	}
}
