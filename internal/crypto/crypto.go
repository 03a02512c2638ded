// Package crypto holds the vault's cryptographic primitives: passphrase key
// derivation, AEAD encrypt/decrypt, random salt and IV generation, and the
// integrity hash that binds a header to its ciphertext.
//
// Keys are 32 bytes. IVs are 12 bytes for both supported AEADs, and every
// encryption must use a fresh IV from GenerateIV.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeyLen  = 32
	SaltLen = 16
	IVLen   = 12

	// TagOverhead is the AEAD authentication tag appended to every ciphertext.
	TagOverhead = 16

	// HashLen is the length of an integrity digest.
	HashLen = sha256.Size
)

// Algorithm tags written into every EncryptionHeader.
const (
	KDFPBKDF2         = "PBKDF2"
	KDFHashSHA256     = "SHA-256"
	CipherAESGCM      = "AES-GCM"
	CipherChaCha20    = "CHACHA20-POLY1305"
	DefaultCipher     = CipherAESGCM
	DefaultVersion    = "enc-v0.1"
	DefaultIterations = 600_000
)

// Zero overwrites key material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("crypto: read random: %w", err)
	}
	return b, nil
}

// GenerateSalt returns a fresh per-vault PBKDF2 salt.
func GenerateSalt() ([]byte, error) { return randBytes(SaltLen) }

// GenerateIV returns a fresh 96-bit nonce.
func GenerateIV() ([]byte, error) { return randBytes(IVLen) }

// DeriveKey stretches a passphrase into an AEAD key with PBKDF2-HMAC-SHA256.
// The same inputs always yield the same key.
func DeriveKey(passphrase string, salt []byte, iterations int) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("crypto: empty salt")
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("crypto: invalid iteration count %d", iterations)
	}
	pw := []byte(passphrase)
	defer Zero(pw)
	return pbkdf2.Key(pw, salt, iterations, KeyLen, sha256.New), nil
}

// DeriveKeyContext runs DeriveKey on its own goroutine so a caller can give
// up on a slow derivation. An abandoned derivation finishes in the
// background and its key is wiped.
func DeriveKeyContext(ctx context.Context, passphrase string, salt []byte, iterations int) ([]byte, error) {
	type result struct {
		key []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		key, err := DeriveKey(passphrase, salt, iterations)
		ch <- result{key: key, err: err}
	}()

	select {
	case r := <-ch:
		return r.key, r.err
	case <-ctx.Done():
		go func() {
			r := <-ch
			Zero(r.key)
		}()
		return nil, ctx.Err()
	}
}

func newAEAD(cipherName string, key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeyLen, len(key))
	}
	switch cipherName {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherChaCha20:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("crypto: unsupported cipher %q", cipherName)
	}
}

// SupportedCipher reports whether name is an AEAD this package implements.
func SupportedCipher(name string) bool {
	return name == CipherAESGCM || name == CipherChaCha20
}

// Encrypt seals plaintext with AES-256-GCM.
func Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	return EncryptWith(CipherAESGCM, plaintext, key, iv)
}

// Decrypt opens an AES-256-GCM ciphertext.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	return DecryptWith(CipherAESGCM, ciphertext, key, iv)
}

// EncryptWith seals plaintext with the named AEAD. The result is
// len(plaintext)+TagOverhead bytes.
func EncryptWith(cipherName string, plaintext, key, iv []byte) ([]byte, error) {
	aead, err := newAEAD(cipherName, key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: iv must be %d bytes, got %d", aead.NonceSize(), len(iv))
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// DecryptWith opens a ciphertext sealed by EncryptWith. Any tag failure is
// reported as ErrAuthentication and no plaintext is returned.
func DecryptWith(cipherName string, ciphertext, key, iv []byte) ([]byte, error) {
	aead, err := newAEAD(cipherName, key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: iv length %d: %w", len(iv), lerrors.ErrAuthentication)
	}
	pt, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", lerrors.ErrAuthentication)
	}
	return pt, nil
}
