package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumenhq/lumen/internal/server"
	"github.com/lumenhq/lumen/internal/vault"
)

// openApp opens the vault of the selected user. The vault starts locked.
func (c *cli) openApp() (*server.App, error) {
	return server.Open(c.cfg, c.userID, c.log)
}

// unlock prompts for the passphrase and unlocks app's vault.
func (c *cli) unlock(ctx context.Context, app *server.App) error {
	state, err := app.Vault.State(ctx)
	if err != nil {
		return err
	}
	switch state {
	case vault.Uninitialized:
		return errors.New("no vault for this user yet: run 'lumen setup' first")
	case vault.Unlocked:
		return nil
	}
	pass, err := readPassphrase(fmt.Sprintf("Passphrase for %s: ", app.UserID))
	if err != nil {
		return err
	}
	return app.Vault.Unlock(ctx, pass)
}
