package crypto

import (
	"encoding/base64"
	"errors"
	"testing"
)

func testCipher(t *testing.T, algorithm, kdf string) *Cipher {
	t.Helper()
	c, err := NewCipher(Config{
		Algorithm:  algorithm,
		KDF:        kdf,
		KeyLength:  32,
		Iterations: 1000,
		Salt:       "default_salt",
	})
	if err != nil {
		t.Fatalf("NewCipher(%s, %s) failed: %v", algorithm, kdf, err)
	}
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	cases := []struct {
		algorithm string
		kdf       string
	}{
		{AlgorithmAESGCM, "hkdf"},
		{AlgorithmAESGCM, "pbkdf2"},
		{AlgorithmChaCha20, "hkdf"},
		{AlgorithmChaCha20, "pbkdf2"},
	}

	for _, tc := range cases {
		t.Run(tc.algorithm+"/"+tc.kdf, func(t *testing.T) {
			c := testCipher(t, tc.algorithm, tc.kdf)

			for _, plaintext := range []string{"secret", "", "多字节文本 with ünïcode"} {
				ciphertext, err := c.Encrypt(plaintext, "pw1234567890")
				if err != nil {
					t.Fatalf("Encrypt failed: %v", err)
				}
				if ciphertext == plaintext {
					t.Error("Ciphertext should not equal plaintext")
				}

				decrypted, err := c.Decrypt(ciphertext, "pw1234567890")
				if err != nil {
					t.Fatalf("Decrypt failed: %v", err)
				}
				if decrypted != plaintext {
					t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
				}
			}
		})
	}
}

func TestCipher_NonceIsRandom(t *testing.T) {
	c := testCipher(t, AlgorithmAESGCM, "hkdf")

	a, _ := c.Encrypt("same input", "pw")
	b, _ := c.Encrypt("same input", "pw")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestCipher_Layout(t *testing.T) {
	c := testCipher(t, AlgorithmAESGCM, "hkdf")

	ciphertext, err := c.Encrypt("secret", "pw")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("ciphertext is not base64: %v", err)
	}
	// 12-byte nonce, 6 bytes of data, 16-byte tag
	if len(raw) != 12+6+16 {
		t.Errorf("len(raw) = %d, want %d", len(raw), 12+6+16)
	}
}

func TestCipher_Failures(t *testing.T) {
	c := testCipher(t, AlgorithmAESGCM, "hkdf")
	ciphertext, _ := c.Encrypt("secret", "right-password")

	tests := []struct {
		name       string
		ciphertext string
		password   string
	}{
		{"wrong password", ciphertext, "wrong-password"},
		{"not base64", "%%%not-base64%%%", "right-password"},
		{"truncated", base64.StdEncoding.EncodeToString([]byte("short")), "right-password"},
		{"tampered", tamper(ciphertext), "right-password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.ciphertext, tt.password)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrCipher) {
				t.Errorf("error %v does not wrap ErrCipher", err)
			}
		})
	}
}

func TestCipher_AlgorithmsAreNotInterchangeable(t *testing.T) {
	aes := testCipher(t, AlgorithmAESGCM, "hkdf")
	chacha := testCipher(t, AlgorithmChaCha20, "hkdf")

	ciphertext, _ := aes.Encrypt("secret", "pw")
	if _, err := chacha.Decrypt(ciphertext, "pw"); err == nil {
		t.Error("chacha20 decrypted an aes-gcm ciphertext")
	}
}

func TestNewCipher_Invalid(t *testing.T) {
	if _, err := NewCipher(Config{Algorithm: "des", KDF: "hkdf", KeyLength: 32}); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
	if _, err := NewCipher(Config{Algorithm: AlgorithmAESGCM, KDF: "scrypt", KeyLength: 32}); err == nil {
		t.Error("expected error for unsupported kdf")
	}
	if _, err := NewCipher(Config{Algorithm: AlgorithmAESGCM, KDF: "hkdf", KeyLength: 16}); err == nil {
		t.Error("expected error for short key length")
	}
}

func tamper(s string) string {
	raw, _ := base64.StdEncoding.DecodeString(s)
	raw[len(raw)-1] ^= 0xff
	return base64.StdEncoding.EncodeToString(raw)
}
