package main

import (
	"fmt"

	"github.com/spf13/cobra"

	lumenserver "github.com/lumenhq/lumen/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lumen v%s\n", lumenserver.Version)
		},
	}
}
