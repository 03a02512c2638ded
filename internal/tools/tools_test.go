package tools_test

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenhq/lumen/internal/assembly"
	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/outbox"
	"github.com/lumenhq/lumen/internal/store"
	"github.com/lumenhq/lumen/internal/tools"
	"github.com/lumenhq/lumen/internal/transcript"
	"github.com/lumenhq/lumen/internal/vault"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

const (
	testUser       = "sam"
	testPassphrase = "correct horse battery"
)

// env is the wiring the server builds, over a temp directory.
type env struct {
	store    *store.Store
	vault    *vault.Session
	queue    *outbox.Queue
	rec      *transcript.Recorder
	asm      *assembly.Assembler
	sessions *tools.Sessions
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logging.Nop()
	st, err := store.Open(store.Config{DataDir: t.TempDir()}, "user-sam", log)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v := vault.NewSession(st, vault.Options{Iterations: 1000, Logger: log})
	st.BindKeys(v)
	t.Cleanup(func() { v.Close(context.Background()) })

	q, err := outbox.New(st.DB(), log)
	if err != nil {
		t.Fatalf("failed to open outbox: %v", err)
	}
	rec := transcript.NewRecorder(st, log)
	rec.Attach(v)

	return &env{
		store:    st,
		vault:    v,
		queue:    q,
		rec:      rec,
		asm:      assembly.New(st, assembly.Options{Logger: log}),
		sessions: tools.NewSessions(testUser, v, st, rec, q, log),
	}
}

// newUnlockedEnv returns an env whose vault has been set up.
func newUnlockedEnv(t *testing.T) *env {
	t.Helper()
	e := newEnv(t)
	if err := e.vault.Setup(context.Background(), testPassphrase); err != nil {
		t.Fatalf("vault setup: %v", err)
	}
	return e
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type handler interface {
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// call runs h and fails the test on a Go error.
func call(t *testing.T, h handler, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := h.Handle(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	return res
}

// mustOK runs h and fails the test when the result is an error.
func mustOK(t *testing.T, h handler, args map[string]interface{}) string {
	t.Helper()
	res := call(t, h, args)
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}
	return resultText(res)
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestDefinitions(t *testing.T) {
	e := newEnv(t)
	defs := []struct {
		tool     interface{ Definition() mcp.Tool }
		name     string
		required []string
	}{
		{tools.NewVaultStatusTool(e.vault, e.rec), "vault_status", nil},
		{tools.NewVaultSetupTool(e.vault), "vault_setup", []string{"passphrase"}},
		{tools.NewVaultUnlockTool(e.vault), "vault_unlock", []string{"passphrase"}},
		{tools.NewVaultLockTool(e.vault), "vault_lock", nil},
		{tools.NewSessionStartTool(e.sessions), "session_start", nil},
		{tools.NewSessionAppendTool(e.sessions), "session_append", []string{"role", "content"}},
		{tools.NewSessionEndTool(e.sessions), "session_end", nil},
		{tools.NewSessionContextTool(e.asm, e.vault, testUser), "session_context", nil},
		{tools.NewSessionTranscriptTool(e.store, e.vault, testUser), "session_transcript", nil},
		{tools.NewArcSaveTool(e.store, testUser), "arc_save", []string{"markdown"}},
		{tools.NewNotebookSaveTool(e.store, testUser), "notebook_save", []string{"markdown"}},
		{tools.NewSummarySaveTool(e.store, testUser), "summary_save", []string{"summary"}},
		{tools.NewProviderKeySaveTool(e.store), "provider_key_save", []string{"provider", "api_key"}},
		{tools.NewOutboxStatusTool(e.queue), "outbox_status", nil},
	}
	for _, d := range defs {
		t.Run(d.name, func(t *testing.T) {
			def := d.tool.Definition()
			if def.Name != d.name {
				t.Errorf("tool name = %q, want %q", def.Name, d.name)
			}
			for _, r := range d.required {
				if _, ok := def.InputSchema.Properties[r]; !ok {
					t.Errorf("missing %q parameter", r)
				}
				found := false
				for _, req := range def.InputSchema.Required {
					if req == r {
						found = true
					}
				}
				if !found {
					t.Errorf("%q should be required", r)
				}
			}
		})
	}
}

// ─── Vault tools ─────────────────────────────────────────────────────────────

func TestVaultTools_Lifecycle(t *testing.T) {
	e := newEnv(t)
	status := tools.NewVaultStatusTool(e.vault, e.rec)
	setup := tools.NewVaultSetupTool(e.vault)
	unlock := tools.NewVaultUnlockTool(e.vault)
	lock := tools.NewVaultLockTool(e.vault)

	if text := mustOK(t, status, nil); !strings.Contains(text, "uninitialized") {
		t.Errorf("status before setup = %q", text)
	}

	res := call(t, unlock, map[string]interface{}{"passphrase": testPassphrase})
	if !res.IsError || !strings.Contains(resultText(res), "vault_setup") {
		t.Errorf("unlock before setup should point at vault_setup, got %q", resultText(res))
	}

	res = call(t, setup, map[string]interface{}{"passphrase": "short"})
	if !res.IsError {
		t.Error("short passphrase should be rejected")
	}

	mustOK(t, setup, map[string]interface{}{"passphrase": testPassphrase})
	if text := mustOK(t, status, nil); !strings.Contains(text, "unlocked") || !strings.Contains(text, "AES-GCM") {
		t.Errorf("status after setup = %q", text)
	}

	res = call(t, setup, map[string]interface{}{"passphrase": testPassphrase})
	if !res.IsError {
		t.Error("second setup should fail")
	}

	mustOK(t, lock, nil)
	if text := mustOK(t, status, nil); !strings.Contains(text, "Vault: locked") {
		t.Errorf("status after lock = %q", text)
	}
	if text := mustOK(t, lock, nil); !strings.Contains(text, "already locked") {
		t.Errorf("second lock = %q", text)
	}

	res = call(t, unlock, map[string]interface{}{"passphrase": "wrong passphrase"})
	if !res.IsError || !strings.Contains(resultText(res), "invalid passphrase") {
		t.Errorf("wrong passphrase result = %q", resultText(res))
	}
	mustOK(t, unlock, map[string]interface{}{"passphrase": testPassphrase})
	if !e.vault.IsUnlocked() {
		t.Error("vault should be unlocked")
	}
}

func TestVaultUnlock_RequiresPassphrase(t *testing.T) {
	e := newEnv(t)
	res := call(t, tools.NewVaultUnlockTool(e.vault), nil)
	if !res.IsError || !strings.Contains(resultText(res), "'passphrase' is required") {
		t.Errorf("result = %q", resultText(res))
	}
}

// ─── Records ─────────────────────────────────────────────────────────────────

func TestArcSave_Versions(t *testing.T) {
	e := newUnlockedEnv(t)
	tool := tools.NewArcSaveTool(e.store, testUser)

	if text := mustOK(t, tool, map[string]interface{}{"markdown": "# Arc\nfirst"}); !strings.Contains(text, "version 1") {
		t.Errorf("first save = %q", text)
	}
	if text := mustOK(t, tool, map[string]interface{}{"markdown": "# Arc\nsecond"}); !strings.Contains(text, "version 2") {
		t.Errorf("second save = %q", text)
	}
	arc, err := e.store.GetArc(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if arc.Markdown != "# Arc\nsecond" || arc.Version != 2 {
		t.Errorf("arc = %+v", arc)
	}

	if res := call(t, tool, map[string]interface{}{"markdown": "  "}); !res.IsError {
		t.Error("blank markdown should be rejected")
	}
}

func TestArcSave_Locked(t *testing.T) {
	e := newUnlockedEnv(t)
	e.vault.Lock(context.Background())

	res := call(t, tools.NewArcSaveTool(e.store, testUser), map[string]interface{}{"markdown": "x"})
	if !res.IsError || !strings.Contains(resultText(res), "vault_unlock") {
		t.Errorf("locked save = %q", resultText(res))
	}
}

func TestProviderKeySave_DoesNotEchoKey(t *testing.T) {
	e := newUnlockedEnv(t)
	tool := tools.NewProviderKeySaveTool(e.store)

	text := mustOK(t, tool, map[string]interface{}{"provider": "Anthropic", "api_key": "sk-secret-1234"})
	if strings.Contains(text, "sk-secret") {
		t.Errorf("response leaks key: %q", text)
	}
	if !strings.Contains(text, "1234") {
		t.Errorf("response should show the key suffix: %q", text)
	}
	got, err := e.store.GetProviderKey(context.Background(), "anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if got.APIKey != "sk-secret-1234" {
		t.Errorf("stored key = %q", got.APIKey)
	}

	if res := call(t, tool, map[string]interface{}{"provider": "anthropic"}); !res.IsError {
		t.Error("missing api_key should be rejected")
	}
}

func TestOutboxStatus_Empty(t *testing.T) {
	e := newEnv(t)
	if text := mustOK(t, tools.NewOutboxStatusTool(e.queue), nil); text != "Outbox is empty." {
		t.Errorf("text = %q", text)
	}
}
