package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lumenhq/lumen/internal/config"
	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/server"
	"github.com/lumenhq/lumen/internal/tools"
	"github.com/lumenhq/lumen/internal/transcript"
)

const testConfig = `
user_id = "sam"

[vault]
kdf_iterations = 1000
allow_weak_kdf = true
`

// withHome points LUMEN_HOME at a temp dir holding a fast-KDF config.
func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(testConfig), 0600); err != nil {
		t.Fatal(err)
	}
	return home
}

// withPassphrases makes readPassphrase return answers in order.
func withPassphrases(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassphrase
	t.Cleanup(func() { readPassphrase = orig })
	readPassphrase = func(string) (string, error) {
		if len(answers) == 0 {
			t.Fatal("unexpected passphrase prompt")
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

// run executes the CLI and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

// recordSession writes one ended session with a single user message.
func recordSession(t *testing.T, content string) string {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		t.Fatal(err)
	}
	app, err := server.Open(cfg, "", logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close(ctx)
	if err := app.Vault.Unlock(ctx, "a long passphrase"); err != nil {
		t.Fatal(err)
	}
	tr, _, err := app.Sessions.Start(ctx, tools.StartParams{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.Sessions.Append(ctx, transcript.Message{Role: transcript.RoleUser, Content: content}); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Sessions.End(ctx); err != nil {
		t.Fatal(err)
	}
	return tr.SessionID
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "lumen v") {
		t.Errorf("version output = %q", out)
	}
}

func TestSetup(t *testing.T) {
	home := withHome(t)

	withPassphrases(t, "a long passphrase", "a different one")
	if _, err := run(t, "setup"); err == nil || !strings.Contains(err.Error(), "do not match") {
		t.Errorf("mismatched passphrases: err = %v", err)
	}

	withPassphrases(t, "short")
	if _, err := run(t, "setup"); err == nil || !strings.Contains(err.Error(), "at least") {
		t.Errorf("short passphrase: err = %v", err)
	}

	withPassphrases(t, "a long passphrase", "a long passphrase")
	out, err := run(t, "setup")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Vault for sam created at "+filepath.Join(home, "lumen-user-sam.db")) {
		t.Errorf("setup output = %q", out)
	}

	if _, err := run(t, "setup"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second setup: err = %v", err)
	}
}

// withStdin replaces os.Stdin with a pipe holding input.
func withStdin(t *testing.T, input string) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString(input); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()
	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = orig
		_ = r.Close()
	})
}

func TestReadPassphrase_PipedLinesPerPrompt(t *testing.T) {
	withStdin(t, "passphrase1\npassphrase2\r\nlast")
	for _, want := range []string{"passphrase1", "passphrase2", "last"} {
		got, err := readPassphrase("> ")
		if err != nil {
			t.Fatalf("readPassphrase: %v", err)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := readPassphrase("> "); err == nil {
		t.Error("expected an error once stdin is exhausted")
	}
}

func TestSetup_PipedStdin(t *testing.T) {
	home := withHome(t)
	withStdin(t, "a long passphrase\na long passphrase\n")
	out, err := run(t, "setup")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Vault for sam created at "+filepath.Join(home, "lumen-user-sam.db")) {
		t.Errorf("setup output = %q", out)
	}
}

func TestHistoryAndContext(t *testing.T) {
	withHome(t)
	withPassphrases(t, "a long passphrase", "a long passphrase")
	if _, err := run(t, "setup"); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "history")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No sessions recorded yet.") {
		t.Errorf("empty history = %q", out)
	}

	sid := recordSession(t, "I finally went running.")

	out, err = run(t, "history", "--user", "sam")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, sid) {
		t.Errorf("history should list %s:\n%s", sid, out)
	}

	withPassphrases(t, "a long passphrase")
	out, err = run(t, "history", "--session", sid)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "user: I finally went running.") {
		t.Errorf("transcript output = %q", out)
	}

	withPassphrases(t, "a long passphrase")
	out, err = run(t, "context", "--user", "sam", "--seed", "1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"session_number: 2", "**user:** I finally went running."} {
		if !strings.Contains(out, want) {
			t.Errorf("context missing %q:\n%s", want, out)
		}
	}

	withPassphrases(t, "wrong passphrase")
	if _, err := run(t, "context"); err == nil || !strings.Contains(err.Error(), "invalid passphrase") {
		t.Errorf("wrong passphrase: err = %v", err)
	}
}

func TestContext_NoVault(t *testing.T) {
	withHome(t)
	if _, err := run(t, "context", "--user", "nobody"); err == nil || !strings.Contains(err.Error(), "lumen setup") {
		t.Errorf("err = %v", err)
	}
}
