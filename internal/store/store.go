// Package store implements the scoped, encrypted record store.
//
// Each storage scope (one per user) lives in its own SQLite database file.
// Record payloads are sealed with the vault key on write and verified, then
// decrypted, on read. Session transcript metadata and vault metadata stay in
// plaintext so they can be listed while the vault is locked.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lumenhq/lumen/internal/crypto"
	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/logging"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeLayout keeps stored timestamps fixed-width so text ordering is
// chronological.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds record store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default configuration for the record store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, ".lumen")}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// KeyHolder supplies the vault key for one operation. Callers zero the
// returned key when done. *vault.Session implements it.
type KeyHolder interface {
	Key() ([]byte, error)
	Params() (crypto.Params, error)
}

// Store is the record store of a single scope.
type Store struct {
	db    *sql.DB
	cfg   Config
	scope string
	path  string
	log   logging.Logger
	now   func() time.Time

	mu   sync.RWMutex
	keys KeyHolder
}

// Open opens (creating if needed) the database of scope under cfg.DataDir.
// A database file that was created for another scope is rejected with
// ErrScopeIsolation.
func Open(cfg Config, scope string, log logging.Logger) (*Store, error) {
	if !validScope(scope) {
		return nil, fmt.Errorf("store: %q: %w", scope, lerrors.ErrInvalidScope)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "lumen-"+scope+".db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg, scope: scope, path: dbPath, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	if err := s.claimScope(); err != nil {
		db.Close()
		return nil, err
	}
	log.Debugf("opened store %s at %s", scope, dbPath)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Scope returns the scope this handle is bound to.
func (s *Store) Scope() string { return s.scope }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle to collaborators that keep their own
// tables in the scope database, such as the outbox.
func (s *Store) DB() *sql.DB { return s.db }

// BindKeys sets the key source used by encrypted operations. Until it is
// called every encrypted operation fails with ErrVaultLocked.
func (s *Store) BindKeys(k KeyHolder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = k
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS store_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS vault_metadata (
			id                 TEXT    PRIMARY KEY,
			vault_initialized  INTEGER NOT NULL,
			salt               BLOB    NOT NULL,
			kdf_iterations     INTEGER NOT NULL,
			encryption_version TEXT    NOT NULL,
			cipher             TEXT    NOT NULL,
			key_check          TEXT,
			created_at         TEXT    NOT NULL,
			updated_at         TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_profiles (
			user_id           TEXT PRIMARY KEY,
			encrypted_blob    BLOB NOT NULL,
			encryption_header TEXT NOT NULL,
			integrity_hash    BLOB NOT NULL,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_transcripts (
			session_id            TEXT PRIMARY KEY,
			user_id               TEXT NOT NULL,
			started_at            TEXT NOT NULL,
			ended_at              TEXT,
			session_number        INTEGER,
			timezone              TEXT,
			locale_hint           TEXT,
			system_prompt_version TEXT NOT NULL DEFAULT '',
			created_at            TEXT NOT NULL,
			updated_at            TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transcripts_user ON session_transcripts(user_id, started_at DESC);

		CREATE TABLE IF NOT EXISTS session_transcript_chunks (
			session_id        TEXT    NOT NULL,
			chunk_index       INTEGER NOT NULL,
			encrypted_blob    BLOB    NOT NULL,
			encryption_header TEXT    NOT NULL,
			integrity_hash    BLOB    NOT NULL,
			created_at        TEXT    NOT NULL,
			PRIMARY KEY (session_id, chunk_index)
		);

		CREATE TABLE IF NOT EXISTS session_summaries (
			session_id        TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			encrypted_blob    BLOB NOT NULL,
			encryption_header TEXT NOT NULL,
			integrity_hash    BLOB NOT NULL,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_summaries_user ON session_summaries(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS llm_provider_keys (
			provider          TEXT PRIMARY KEY,
			encrypted_blob    BLOB NOT NULL,
			encryption_header TEXT NOT NULL,
			integrity_hash    BLOB NOT NULL,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_arcs (
			user_id           TEXT    PRIMARY KEY,
			version           INTEGER NOT NULL,
			encrypted_blob    BLOB    NOT NULL,
			encryption_header TEXT    NOT NULL,
			integrity_hash    BLOB    NOT NULL,
			created_at        TEXT    NOT NULL,
			updated_at        TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_notebooks (
			session_id        TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			encrypted_blob    BLOB NOT NULL,
			encryption_header TEXT NOT NULL,
			integrity_hash    BLOB NOT NULL,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notebooks_user ON session_notebooks(user_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// claimScope records the scope in a fresh database, or checks it against an
// existing one.
func (s *Store) claimScope() error {
	var recorded string
	err := s.db.QueryRow(`SELECT value FROM store_meta WHERE key = 'scope'`).Scan(&recorded)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO store_meta (key, value) VALUES ('scope', ?)`, s.scope); err != nil {
			return fmt.Errorf("store: record scope: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: read scope: %w", err)
	case recorded != s.scope:
		return fmt.Errorf("store: %s belongs to scope %q, not %q: %w", s.path, recorded, s.scope, lerrors.ErrScopeIsolation)
	}
	return nil
}

// ─── Sealing ─────────────────────────────────────────────────────────────────

// sealedRow is the on-disk form of an encrypted payload.
type sealedRow struct {
	blob   []byte
	header string
	hash   []byte
}

func (s *Store) keyHolder() (KeyHolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil {
		return nil, lerrors.ErrVaultLocked
	}
	return s.keys, nil
}

// seal encrypts the JSON form of v under the current vault key.
func (s *Store) seal(v any) (sealedRow, error) {
	kh, err := s.keyHolder()
	if err != nil {
		return sealedRow{}, err
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return sealedRow{}, fmt.Errorf("store: encode record: %w", err)
	}
	return sealBytes(kh, plaintext)
}

func sealBytes(kh KeyHolder, plaintext []byte) (sealedRow, error) {
	p, err := kh.Params()
	if err != nil {
		return sealedRow{}, err
	}
	key, err := kh.Key()
	if err != nil {
		return sealedRow{}, err
	}
	defer crypto.Zero(key)

	sealed, err := crypto.Seal(plaintext, key, p)
	if err != nil {
		return sealedRow{}, err
	}
	header, err := crypto.MarshalHeader(sealed.Header)
	if err != nil {
		return sealedRow{}, err
	}
	return sealedRow{blob: sealed.Ciphertext, header: string(header), hash: sealed.Hash}, nil
}

// openBytes verifies and decrypts a stored row.
func (s *Store) openBytes(row sealedRow) ([]byte, error) {
	kh, err := s.keyHolder()
	if err != nil {
		return nil, err
	}
	header, err := crypto.ParseHeader([]byte(row.header))
	if err != nil {
		return nil, fmt.Errorf("store: %v: %w", err, lerrors.ErrIntegrity)
	}
	key, err := kh.Key()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)
	return crypto.Open(crypto.Sealed{Ciphertext: row.blob, Header: header, Hash: row.hash}, key)
}

// open decrypts row into v.
func (s *Store) open(row sealedRow, v any) error {
	plaintext, err := s.openBytes(row)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("store: decode record: %w", err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: bad timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: %s: %w", what, lerrors.ErrNotFound)
	}
	return fmt.Errorf("store: %s: %w", what, err)
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
