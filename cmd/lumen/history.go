package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past sessions, or print one transcript",
		Long: `Without --session, lists the sessions of a user. Session metadata is not
encrypted, so no passphrase is needed. With --session, unlocks the vault and
prints the decrypted transcript.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := c.openApp()
			if err != nil {
				return err
			}
			defer app.Close(ctx)
			out := cmd.OutOrStdout()

			if sessionID == "" {
				list, err := app.Store.ListTranscripts(ctx, app.UserID)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "No sessions recorded yet.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "#\tSESSION\tSTARTED\tENDED")
				for _, t := range list {
					ended := "open"
					if t.Ended() {
						ended = t.EndedAt.Local().Format(time.DateTime)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.SessionNumber, t.SessionID, t.StartedAt.Local().Format(time.DateTime), ended)
				}
				return w.Flush()
			}

			tr, err := app.Store.GetTranscript(ctx, sessionID)
			if err != nil {
				return err
			}
			if tr.UserID != app.UserID {
				return fmt.Errorf("session %s does not belong to %s", sessionID, app.UserID)
			}
			if err := c.unlock(ctx, app); err != nil {
				return err
			}
			msgs, err := app.Store.ReadTranscriptMessages(ctx, sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Session #%d (%s)\n", tr.SessionNumber, tr.StartedAt.Local().Format(time.DateTime))
			for _, m := range msgs {
				fmt.Fprintf(out, "\n[%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), m.Role, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "print the transcript of this session")
	return cmd
}
