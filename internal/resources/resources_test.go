package resources

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/outbox"
	"github.com/lumenhq/lumen/internal/store"
	"github.com/lumenhq/lumen/internal/transcript"
	"github.com/lumenhq/lumen/internal/vault"
)

func newTestHandler(t *testing.T) (*Handler, *vault.Session, *outbox.Queue) {
	t.Helper()
	log := logging.Nop()
	st, err := store.Open(store.Config{DataDir: t.TempDir()}, "user-sam", log)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	v := vault.NewSession(st, vault.Options{Iterations: 1000, Logger: log})
	st.BindKeys(v)
	q, err := outbox.New(st.DB(), log)
	if err != nil {
		t.Fatal(err)
	}
	rec := transcript.NewRecorder(st, log)
	return NewHandler("sam", v, rec, q), v, q
}

func TestHandleStatus(t *testing.T) {
	ctx := context.Background()
	h, v, q := newTestHandler(t)

	st, err := h.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Vault != "uninitialized" || st.ActiveSession != "" {
		t.Errorf("status = %+v", st)
	}

	if err := v.Setup(ctx, "a long passphrase"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.EnqueueSessionStart(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = StatusURI
	contents, err := h.HandleStatus(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content is %T", contents[0])
	}
	if tc.MIMEType != "application/json" {
		t.Errorf("mime = %q", tc.MIMEType)
	}
	var got Status
	if err := json.Unmarshal([]byte(tc.Text), &got); err != nil {
		t.Fatal(err)
	}
	if got.Vault != "unlocked" || got.OutboxPending != 1 || got.UserID != "sam" {
		t.Errorf("status = %+v", got)
	}
}
