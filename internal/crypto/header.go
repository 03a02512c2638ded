package crypto

import (
	"encoding/json"
	"fmt"
)

// KDFParams records how the vault key was stretched.
type KDFParams struct {
	Hash       string `json:"hash"`
	Iterations int    `json:"iterations"`
}

// Header is the descriptor stored next to every encrypted blob. Salt is
// shared by all blobs of one vault; IV is unique per encryption.
//
// Field order is fixed so the JSON form, and therefore the integrity hash,
// is stable. Byte slices marshal as standard base64.
type Header struct {
	KDF       string    `json:"kdf"`
	KDFParams KDFParams `json:"kdf_params"`
	Salt      []byte    `json:"salt"`
	Cipher    string    `json:"cipher"`
	IV        []byte    `json:"iv"`
	Version   string    `json:"version"`
}

// Params is the vault-wide part of a header; only the IV varies per blob.
type Params struct {
	Salt       []byte
	Iterations int
	Cipher     string
	Version    string
}

// NewHeader builds a header for one encryption with the given IV.
func (p Params) NewHeader(iv []byte) Header {
	c := p.Cipher
	if c == "" {
		c = DefaultCipher
	}
	v := p.Version
	if v == "" {
		v = DefaultVersion
	}
	return Header{
		KDF:       KDFPBKDF2,
		KDFParams: KDFParams{Hash: KDFHashSHA256, Iterations: p.Iterations},
		Salt:      append([]byte(nil), p.Salt...),
		Cipher:    c,
		IV:        append([]byte(nil), iv...),
		Version:   v,
	}
}

// Validate checks the fixed algorithm tags and field lengths.
func (h Header) Validate() error {
	if h.KDF != KDFPBKDF2 {
		return fmt.Errorf("crypto: unsupported kdf %q", h.KDF)
	}
	if h.KDFParams.Hash != KDFHashSHA256 {
		return fmt.Errorf("crypto: unsupported kdf hash %q", h.KDFParams.Hash)
	}
	if h.KDFParams.Iterations <= 0 {
		return fmt.Errorf("crypto: invalid iterations %d", h.KDFParams.Iterations)
	}
	if len(h.Salt) < SaltLen {
		return fmt.Errorf("crypto: salt too short (%d bytes)", len(h.Salt))
	}
	if !SupportedCipher(h.Cipher) {
		return fmt.Errorf("crypto: unsupported cipher %q", h.Cipher)
	}
	if len(h.IV) != IVLen {
		return fmt.Errorf("crypto: iv must be %d bytes, got %d", IVLen, len(h.IV))
	}
	if h.Version == "" {
		return fmt.Errorf("crypto: missing version")
	}
	return nil
}

// MarshalHeader returns the canonical JSON form used for storage and hashing.
func MarshalHeader(h Header) ([]byte, error) {
	return json.Marshal(h)
}

// ParseHeader decodes and validates a stored header.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("crypto: decode header: %w", err)
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}
