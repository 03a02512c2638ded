package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumenhq/lumen/internal/config"
	"github.com/lumenhq/lumen/internal/vault"
)

const minPassphraseLen = 8

func newSetupCmd(c *cli) *cobra.Command {
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the encrypted vault for a user",
		Long: `Creates the vault of a user under a new passphrase. The passphrase
cannot be recovered; losing it makes every stored session unreadable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := c.openApp()
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			state, err := app.Vault.State(ctx)
			if err != nil {
				return err
			}
			if state != vault.Uninitialized {
				return fmt.Errorf("vault for %s already exists at %s", app.UserID, app.Store.Path())
			}

			pass, err := readPassphrase("New passphrase: ")
			if err != nil {
				return err
			}
			if len([]rune(pass)) < minPassphraseLen {
				return fmt.Errorf("passphrase must be at least %d characters", minPassphraseLen)
			}
			confirm, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if pass != confirm {
				return errors.New("passphrases do not match")
			}

			if err := app.Vault.Setup(ctx, pass); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vault for %s created at %s\n", app.UserID, app.Store.Path())

			if writeConfig {
				path := c.configPath
				if path == "" {
					path = config.DefaultPath()
				}
				if _, err := os.Stat(path); err == nil {
					c.log.Infof("config %s already exists, leaving it alone", path)
					return nil
				}
				cfg := c.cfg
				cfg.UserID = app.UserID
				if err := config.Save(path, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&writeConfig, "write-config", true, "write the effective config file if none exists")
	return cmd
}
