package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCipher is wrapped by every encrypt/decrypt failure: wrong password,
// corrupt or truncated ciphertext, bad encoding.
var ErrCipher = errors.New("cipher failure")

// Supported algorithms
const (
	AlgorithmAESGCM   = "aes-256-gcm"
	AlgorithmChaCha20 = "chacha20-poly1305"
)

// Config holds the algorithm and key-derivation parameters
type Config struct {
	Algorithm  string
	KDF        string
	KeyLength  int
	Iterations int
	Salt       string
}

// Cipher encrypts strings under a password. The output is
// base64(nonce || sealed), the same layout for both algorithms.
type Cipher struct {
	algorithm string
	kdf       KeyDeriver
}

// NewCipher creates a cipher from config
func NewCipher(cfg Config) (*Cipher, error) {
	switch cfg.Algorithm {
	case AlgorithmAESGCM, AlgorithmChaCha20:
	default:
		return nil, fmt.Errorf("unsupported encryption algorithm: %s", cfg.Algorithm)
	}

	kdf, err := NewKeyDeriver(cfg)
	if err != nil {
		return nil, err
	}

	return &Cipher{algorithm: cfg.Algorithm, kdf: kdf}, nil
}

// Algorithm returns the configured AEAD name
func (c *Cipher) Algorithm() string { return c.algorithm }

func (c *Cipher) aead(password string) (cipher.AEAD, error) {
	key, err := c.kdf.DeriveKey(password)
	if err != nil {
		return nil, err
	}

	switch c.algorithm {
	case AlgorithmChaCha20:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		return aead, nil
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	}
}

// Encrypt seals plaintext with a key derived from password
func (c *Cipher) Encrypt(plaintext, password string) (string, error) {
	aead, err := c.aead(password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipher, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: failed to generate nonce: %v", ErrCipher, err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt
func (c *Cipher) Decrypt(ciphertext, password string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrCipher, err)
	}

	aead, err := c.aead(password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipher, err)
	}

	if len(combined) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCipher)
	}

	nonce, sealed := combined[:aead.NonceSize()], combined[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrCipher, err)
	}
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrCipher)
	}

	return string(plaintext), nil
}
