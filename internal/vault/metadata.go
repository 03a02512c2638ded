// Package vault owns the passphrase-gated key of one storage scope: vault
// metadata, the key-check sentinel, and the Session state machine that holds
// the derived key in memory between unlock and lock.
package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumenhq/lumen/internal/crypto"
	lerrors "github.com/lumenhq/lumen/internal/errors"
)

// MetadataID is the fixed primary key of the single metadata record.
const MetadataID = "vault"

const keyCheckSentinel = "lumen-vault-key-check"

// KeyCheck is an encrypted sentinel used to verify a candidate key without
// touching real data. Created once at setup.
type KeyCheck struct {
	EncryptedBlob []byte        `json:"encrypted_blob"`
	Header        crypto.Header `json:"encryption_header"`
	IntegrityHash []byte        `json:"integrity_hash"`
}

func (k KeyCheck) sealed() crypto.Sealed {
	return crypto.Sealed{Ciphertext: k.EncryptedBlob, Header: k.Header, Hash: k.IntegrityHash}
}

// Metadata describes the vault of one scope. It is stored in plaintext
// because it must be readable while the vault is locked.
type Metadata struct {
	ID                string    `json:"id"`
	Initialized       bool      `json:"vault_initialized"`
	Salt              []byte    `json:"salt"`
	KDFIterations     int       `json:"kdf_iterations"`
	EncryptionVersion string    `json:"encryption_version"`
	Cipher            string    `json:"cipher"`
	KeyCheck          *KeyCheck `json:"key_check"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Params returns the header parameters every blob of this vault uses.
func (m Metadata) Params() crypto.Params {
	return crypto.Params{
		Salt:       m.Salt,
		Iterations: m.KDFIterations,
		Cipher:     m.Cipher,
		Version:    m.EncryptionVersion,
	}
}

type sentinelPayload struct {
	Sentinel string `json:"sentinel"`
}

// CreateKeyCheck encrypts the sentinel under key.
func CreateKeyCheck(key []byte, p crypto.Params) (*KeyCheck, error) {
	pt, err := json.Marshal(sentinelPayload{Sentinel: keyCheckSentinel})
	if err != nil {
		return nil, err
	}
	s, err := crypto.Seal(pt, key, p)
	if err != nil {
		return nil, fmt.Errorf("vault: seal key check: %w", err)
	}
	return &KeyCheck{EncryptedBlob: s.Ciphertext, Header: s.Header, IntegrityHash: s.Hash}, nil
}

// CheckKey verifies key against the sentinel. It returns ErrIntegrity when
// the stored key check itself is corrupt and ErrAuthentication when the key
// is wrong, so callers can log the two cases apart.
func CheckKey(key []byte, kc *KeyCheck) error {
	if kc == nil {
		return fmt.Errorf("vault: missing key check: %w", lerrors.ErrIntegrity)
	}
	pt, err := crypto.Open(kc.sealed(), key)
	if err != nil {
		return err
	}
	var payload sentinelPayload
	if err := json.Unmarshal(pt, &payload); err != nil || payload.Sentinel != keyCheckSentinel {
		return fmt.Errorf("vault: unexpected sentinel: %w", lerrors.ErrAuthentication)
	}
	return nil
}

// VerifyKeyCheck reports whether key decrypts the sentinel.
func VerifyKeyCheck(key []byte, kc *KeyCheck) bool {
	return CheckKey(key, kc) == nil
}

// BuildMetadata returns a freshly initialized metadata record.
func BuildMetadata(p crypto.Params, kc *KeyCheck, now time.Time) Metadata {
	c := p.Cipher
	if c == "" {
		c = crypto.DefaultCipher
	}
	return Metadata{
		ID:                MetadataID,
		Initialized:       true,
		Salt:              append([]byte(nil), p.Salt...),
		KDFIterations:     p.Iterations,
		EncryptionVersion: p.Version,
		Cipher:            c,
		KeyCheck:          kc,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
}
