package errors

import "errors"

// Vault state errors.
var (
	// ErrVaultLocked indicates an encrypted operation ran with no key held.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrVaultNotInitialized indicates no vault metadata exists for the scope.
	ErrVaultNotInitialized = errors.New("vault has not been initialized")

	// ErrVaultAlreadyInitialized indicates setup ran against an existing vault.
	ErrVaultAlreadyInitialized = errors.New("vault has already been initialized")

	// ErrInvalidPassphrase indicates the key check rejected the derived key.
	ErrInvalidPassphrase = errors.New("invalid passphrase")
)

// Record crypto errors. Both are fatal to the single record they concern.
var (
	// ErrAuthentication indicates the AEAD tag did not verify: wrong key,
	// wrong IV, or corrupted ciphertext.
	ErrAuthentication = errors.New("authentication failed")

	// ErrIntegrity indicates the stored integrity hash does not match the
	// header and ciphertext. Detected before any decrypt attempt.
	ErrIntegrity = errors.New("integrity check failed")
)

// Isolation errors.
var (
	// ErrScopeIsolation indicates a storage handle observed data belonging to
	// a different scope. This is a bug and must not be recovered from.
	ErrScopeIsolation = errors.New("scope isolation violated")

	// ErrInvalidScope indicates an empty or unusable scope identifier.
	ErrInvalidScope = errors.New("invalid storage scope")
)

// Record errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrChunkExists indicates a chunk index was written twice for a session.
	ErrChunkExists = errors.New("transcript chunk already exists")

	// ErrSessionEnded indicates a write against a session that is already closed.
	ErrSessionEnded = errors.New("session has already ended")

	// ErrNotebookExists indicates a second notebook for the same session.
	ErrNotebookExists = errors.New("notebook already exists for session")
)
