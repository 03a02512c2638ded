package server

import (
	"context"
	"fmt"

	"github.com/lumenhq/lumen/internal/assembly"
	"github.com/lumenhq/lumen/internal/config"
	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/outbox"
	"github.com/lumenhq/lumen/internal/store"
	"github.com/lumenhq/lumen/internal/tools"
	"github.com/lumenhq/lumen/internal/transcript"
	"github.com/lumenhq/lumen/internal/vault"
)

// App holds the wired components of one user's vault. The CLI uses it
// directly; New wraps it in an MCP server.
type App struct {
	Config    config.Config
	UserID    string
	Log       logging.Logger
	Factory   *store.Factory
	Store     *store.Store
	Vault     *vault.Session
	Outbox    *outbox.Queue
	Recorder  *transcript.Recorder
	Assembler *assembly.Assembler
	Sessions  *tools.Sessions
}

// Open wires the components for userID. The vault starts locked.
func Open(cfg config.Config, userID string, log logging.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = cfg.UserID
	}

	factory := store.NewFactory(store.Config{DataDir: cfg.DataDir}, log)
	st, err := factory.ForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("opening store for %q: %w", userID, err)
	}

	v := vault.NewSession(st, VaultOptions(cfg, log))
	st.BindKeys(v)

	q, err := outbox.New(st.DB(), log)
	if err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("opening outbox: %w", err)
	}

	rec := transcript.NewRecorder(st, log)
	rec.Attach(v)

	asm := assembly.New(st, assembly.Options{
		RecentCount: cfg.Context.RecentCount,
		Budget:      ContextBudget(cfg),
		Logger:      log,
	})

	return &App{
		Config:    cfg,
		UserID:    userID,
		Log:       log,
		Factory:   factory,
		Store:     st,
		Vault:     v,
		Outbox:    q,
		Recorder:  rec,
		Assembler: asm,
		Sessions:  tools.NewSessions(userID, v, st, rec, q, log),
	}, nil
}

// Close flushes buffered messages, locks the vault and closes the store.
func (a *App) Close(ctx context.Context) error {
	a.Vault.Close(ctx)
	return a.Factory.Close()
}

// VaultOptions maps the vault section of cfg.
func VaultOptions(cfg config.Config, log logging.Logger) vault.Options {
	return vault.Options{
		Iterations:   cfg.Vault.KDFIterations,
		Cipher:       cfg.Vault.Cipher,
		Version:      cfg.Vault.EncryptionVersion,
		IdleTimeout:  cfg.Vault.IdleTimeout.Duration,
		FlushTimeout: cfg.Vault.FlushTimeout.Duration,
		Logger:       log,
	}
}

// ContextBudget maps the context section of cfg.
func ContextBudget(cfg config.Config) assembly.Budget {
	return assembly.Budget{
		MaxChars:         cfg.Context.MaxChars,
		ContextTokens:    cfg.Context.ContextTokens,
		ReservedTokens:   cfg.Context.ReservedTokens,
		ReservedFraction: cfg.Context.ReservedFraction,
		ModelID:          cfg.Context.ModelID,
	}
}
