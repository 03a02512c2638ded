package main

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumenhq/lumen/internal/assembly"
)

func newContextCmd(c *cli) *cobra.Command {
	var (
		maxChars int
		modelID  string
		timezone string
		seed     int64
	)
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the context the coach would see at the next session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := c.openApp()
			if err != nil {
				return err
			}
			defer app.Close(ctx)
			if err := c.unlock(ctx, app); err != nil {
				return err
			}

			req := assembly.Request{
				UserID: app.UserID,
				Budget: assembly.Budget{MaxChars: maxChars, ModelID: modelID},
			}
			if timezone != "" {
				loc, err := time.LoadLocation(timezone)
				if err != nil {
					return fmt.Errorf("unknown timezone %q", timezone)
				}
				req.Location = loc
			}
			if cmd.Flags().Changed("seed") {
				req.Rand = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
			}

			res, err := app.Assembler.Build(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			c.log.Infof("%d/%d chars, %d transcripts, %d notebooks", res.Chars, res.Budget, len(res.Transcripts), len(res.Notebooks))
			if len(res.Unreadable) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d session(s) could not be read and were left out: %s\n",
					len(res.Unreadable), strings.Join(res.Unreadable, ", "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "character budget (default from config)")
	cmd.Flags().StringVar(&modelID, "model", "", "model whose context window sets the budget")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for current_date")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for the selection of older sessions")
	return cmd
}
