// Package errors provides typed error values for the lumen vault.
//
// Callers match these sentinels with errors.Is rather than comparing
// strings. Packages wrap them with their own prefix:
//
//	return fmt.Errorf("store: read summary %s: %w", id, errors.ErrIntegrity)
//
// # Error Categories
//
//   - Vault state: ErrVaultLocked, ErrVaultNotInitialized, ErrVaultAlreadyInitialized
//   - Passphrase: ErrInvalidPassphrase (user-facing, retryable by the user)
//   - Record crypto: ErrAuthentication, ErrIntegrity (per record, never retried)
//   - Isolation: ErrScopeIsolation (a bug, never recovered)
//   - Records: ErrNotFound, ErrChunkExists, ErrSessionEnded, ErrNotebookExists
//
// Import it as lerrors to avoid shadowing the standard library:
//
//	lerrors "github.com/lumenhq/lumen/internal/errors"
package errors
