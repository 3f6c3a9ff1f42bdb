package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// hkdfInfo binds derived keys to this use
var hkdfInfo = []byte("encryption")

// KeyDeriver turns a request password into an AEAD key
type KeyDeriver interface {
	DeriveKey(password string) ([]byte, error)
}

// NewKeyDeriver returns the deriver named by cfg.KDF
func NewKeyDeriver(cfg Config) (KeyDeriver, error) {
	if cfg.KeyLength != 32 {
		return nil, fmt.Errorf("key length must be 32 bytes, got %d", cfg.KeyLength)
	}

	switch cfg.KDF {
	case "", "hkdf":
		return &HKDFDeriver{salt: []byte(cfg.Salt), keyLen: cfg.KeyLength}, nil
	case "pbkdf2":
		if cfg.Iterations <= 0 {
			return nil, fmt.Errorf("pbkdf2 requires a positive iteration count")
		}
		return &PBKDF2Deriver{salt: []byte(cfg.Salt), iterations: cfg.Iterations, keyLen: cfg.KeyLength}, nil
	default:
		return nil, fmt.Errorf("unsupported key derivation: %s", cfg.KDF)
	}
}

// HKDFDeriver derives keys with HKDF-SHA256 over (salt, password)
type HKDFDeriver struct {
	salt   []byte
	keyLen int
}

func (d *HKDFDeriver) DeriveKey(password string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(password), d.salt, hkdfInfo)
	key := make([]byte, d.keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// PBKDF2Deriver derives keys with PBKDF2-HMAC-SHA256. Cost scales with
// the configured iteration count.
type PBKDF2Deriver struct {
	salt       []byte
	iterations int
	keyLen     int
}

func (d *PBKDF2Deriver) DeriveKey(password string) ([]byte, error) {
	return pbkdf2.Key([]byte(password), d.salt, d.iterations, d.keyLen, sha256.New), nil
}
