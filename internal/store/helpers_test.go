package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/store"
	"github.com/lumenhq/lumen/internal/vault"
)

const testIterations = 1000

// newTestStore opens a store for scope user-test in a temp directory.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{DataDir: t.TempDir()}, "user-test", logging.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newVault creates a vault session over s, sets it up with passphrase and
// binds it as the store's key source.
func newVault(t *testing.T, s *store.Store, passphrase string) *vault.Session {
	t.Helper()
	v := vault.NewSession(s, vault.Options{Iterations: testIterations, Logger: logging.Nop()})
	if err := v.Setup(context.Background(), passphrase); err != nil {
		t.Fatalf("vault setup: %v", err)
	}
	s.BindKeys(v)
	t.Cleanup(func() { v.Close(context.Background()) })
	return v
}

// newUnlockedStore returns a store with an unlocked vault.
func newUnlockedStore(t *testing.T) (*store.Store, *vault.Session) {
	t.Helper()
	s := newTestStore(t)
	return s, newVault(t, s, "p1")
}

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func ptr[T any](v T) *T { return &v }
