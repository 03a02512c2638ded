package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/vault"
)

// GetVaultMetadata returns the scope's vault metadata, or ErrNotFound.
// It does not need the vault key.
func (s *Store) GetVaultMetadata(ctx context.Context) (*vault.Metadata, error) {
	var (
		m         vault.Metadata
		initFlag  int
		keyCheck  sql.NullString
		createdAt string
		updatedAt string
		err       error
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT id, vault_initialized, salt, kdf_iterations, encryption_version, cipher,
		       key_check, created_at, updated_at
		FROM vault_metadata WHERE id = ?`, vault.MetadataID,
	).Scan(&m.ID, &initFlag, &m.Salt, &m.KDFIterations, &m.EncryptionVersion, &m.Cipher,
		&keyCheck, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err, "vault metadata")
	}
	m.Initialized = initFlag != 0
	if keyCheck.Valid {
		var kc vault.KeyCheck
		if err := json.Unmarshal([]byte(keyCheck.String), &kc); err != nil {
			return nil, fmt.Errorf("store: decode key check: %w", err)
		}
		m.KeyCheck = &kc
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveVaultMetadata writes the scope's vault metadata once. A second save
// fails with ErrVaultAlreadyInitialized and leaves the stored salt and key
// check untouched.
func (s *Store) SaveVaultMetadata(ctx context.Context, m vault.Metadata) error {
	var keyCheck sql.NullString
	if m.KeyCheck != nil {
		raw, err := json.Marshal(m.KeyCheck)
		if err != nil {
			return fmt.Errorf("store: encode key check: %w", err)
		}
		keyCheck = sql.NullString{String: string(raw), Valid: true}
	}
	id := m.ID
	if id == "" {
		id = vault.MetadataID
	}
	initFlag := 0
	if m.Initialized {
		initFlag = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_metadata (id, vault_initialized, salt, kdf_iterations,
		                            encryption_version, cipher, key_check, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, initFlag, m.Salt, m.KDFIterations, m.EncryptionVersion, m.Cipher,
		keyCheck, formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save vault metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: save vault metadata: %w", lerrors.ErrVaultAlreadyInitialized)
	}
	return nil
}
