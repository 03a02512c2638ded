package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	lerrors "github.com/lumenhq/lumen/internal/errors"
)

// Sealed is one encrypted blob with everything needed to verify and open it.
type Sealed struct {
	Ciphertext []byte
	Header     Header
	Hash       []byte
}

// Hash binds a header and its ciphertext: SHA-256(header JSON || ciphertext).
// It is not keyed; it detects corruption and tampering before decryption.
func Hash(h Header, ciphertext []byte) ([]byte, error) {
	hdr, err := MarshalHeader(h)
	if err != nil {
		return nil, fmt.Errorf("crypto: encode header: %w", err)
	}
	sum := sha256.New()
	sum.Write(hdr)
	sum.Write(ciphertext)
	return sum.Sum(nil), nil
}

// Seal encrypts plaintext under a fresh IV and computes its integrity hash.
func Seal(plaintext, key []byte, p Params) (*Sealed, error) {
	iv, err := GenerateIV()
	if err != nil {
		return nil, err
	}
	h := p.NewHeader(iv)
	ct, err := EncryptWith(h.Cipher, plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	digest, err := Hash(h, ct)
	if err != nil {
		return nil, err
	}
	return &Sealed{Ciphertext: ct, Header: h, Hash: digest}, nil
}

// Verify recomputes the integrity hash and compares it to the stored one.
func Verify(s Sealed) error {
	want, err := Hash(s.Header, s.Ciphertext)
	if err != nil {
		return fmt.Errorf("crypto: %w", lerrors.ErrIntegrity)
	}
	if subtle.ConstantTimeCompare(want, s.Hash) != 1 {
		return fmt.Errorf("crypto: %w", lerrors.ErrIntegrity)
	}
	return nil
}

// Open verifies integrity first and only then decrypts. A hash mismatch is
// ErrIntegrity; a tag failure is ErrAuthentication.
func Open(s Sealed, key []byte) ([]byte, error) {
	if err := Verify(s); err != nil {
		return nil, err
	}
	return DecryptWith(s.Header.Cipher, s.Ciphertext, key, s.Header.IV)
}
