package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenhq/lumen/internal/config"
	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/tools"
	"github.com/lumenhq/lumen/internal/transcript"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.UserID = "Sam Example"
	cfg.Vault.KDFIterations = 1000
	cfg.Vault.AllowWeakKDF = true
	cfg.Vault.IdleTimeout = config.Duration{}
	return cfg
}

func TestOpen_ScopesByUser(t *testing.T) {
	cfg := testConfig(t)
	app, err := Open(cfg, "", logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close(context.Background())

	if app.UserID != "Sam Example" {
		t.Errorf("UserID = %q", app.UserID)
	}
	if app.Store.Scope() != "user-sam-example" {
		t.Errorf("scope = %q", app.Store.Scope())
	}
	if filepath.Dir(app.Store.Path()) != cfg.DataDir {
		t.Errorf("store path = %q, want under %q", app.Store.Path(), cfg.DataDir)
	}

	other, err := Open(cfg, "robin", logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close(context.Background())
	if other.Store.Path() == app.Store.Path() {
		t.Error("different users share a database file")
	}
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vault.AllowWeakKDF = false
	if _, err := Open(cfg, "", logging.Nop()); err == nil {
		t.Error("weak KDF without allow_weak_kdf should be rejected")
	}
}

func TestApp_CloseFlushesAndReopens(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	app, err := Open(cfg, "", logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Vault.Setup(ctx, "a long passphrase"); err != nil {
		t.Fatal(err)
	}
	tr, _, err := app.Sessions.Start(ctx, tools.StartParams{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.Recorder.Add(transcript.Message{Role: transcript.RoleUser, Content: "unsaved"}); err != nil {
		t.Fatal(err)
	}
	if err := app.Close(ctx); err != nil {
		t.Fatal(err)
	}

	again, err := Open(cfg, "", logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close(ctx)
	if err := again.Vault.Unlock(ctx, "a long passphrase"); err != nil {
		t.Fatal(err)
	}
	msgs, err := again.Store.ReadTranscriptMessages(ctx, tr.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "unsaved" {
		t.Errorf("messages after reopen = %+v", msgs)
	}

	resumed, ok, err := again.Sessions.Start(ctx, tools.StartParams{})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || resumed.SessionID != tr.SessionID {
		t.Errorf("start after reopen should resume %s, got %s (resumed=%t)", tr.SessionID, resumed.SessionID, ok)
	}
	if again.Recorder.NextIndex() != 1 {
		t.Errorf("next chunk index = %d, want 1", again.Recorder.NextIndex())
	}
}

func TestMappings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vault.IdleTimeout = config.Duration{Duration: time.Minute}
	cfg.Context.ReservedFraction = 0.25

	opts := VaultOptions(cfg, logging.Nop())
	if opts.Iterations != 1000 || opts.IdleTimeout != time.Minute {
		t.Errorf("vault options = %+v", opts)
	}
	b := ContextBudget(cfg)
	if b.ReservedFraction != 0.25 || b.ModelID != "opus-4.5" {
		t.Errorf("budget = %+v", b)
	}
}

func TestNew_RegistersServer(t *testing.T) {
	s, cleanup, err := New(testConfig(t), logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if s == nil {
		t.Fatal("server is nil")
	}
}
