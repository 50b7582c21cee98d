// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package keyring manages API-key credential pools.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a value as encrypted (format: ENC:base64(salt|nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

// NonceSize is the size of the nonce/IV for AES-GCM (12 bytes / 96 bits)
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits)
const KeySize = 32

// SaltSize is the size of the salt for key derivation (32 bytes)
const SaltSize = 32

// PBKDF2Iterations is the number of iterations for PBKDF2 key derivation.
// OWASP 2023 recommends 600,000+ for PBKDF2-SHA-256 to provide adequate
// resistance against brute-force attacks with modern hardware.
const PBKDF2Iterations = 600000

// PassphraseEnv names the environment variable holding the passphrase
// used to encrypt API keys at rest.
const PassphraseEnv = "SIDEKICK_PASSPHRASE"

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoPassphrase indicates no passphrase is configured for encryption
	ErrNoPassphrase = errors.New("no passphrase set: export " + PassphraseEnv + " to encrypt keys at rest")
	// ErrInvalidCiphertext indicates the ciphertext format is invalid
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates decryption failed (wrong passphrase or tampered data)
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// =============================================================================
// SECURITY HELPER FUNCTIONS
// =============================================================================

// ZeroBytes securely zeros sensitive byte slices to prevent memory disclosure.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Fingerprint returns a short non-reversible identifier for an API key,
// safe for logs and display: the hex form of the first 4 bytes of its
// SHA-256 hash.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// DeriveKey derives an encryption key from a passphrase and salt using
// PBKDF2-SHA-256 (NIST SP 800-132 Password-Based Key Derivation).
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// IsEncrypted checks if a string value is encrypted (has ENC: prefix).
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// =============================================================================
// CRYPT
// =============================================================================

// Crypt encrypts and decrypts string values with AES-256-GCM under a
// passphrase-derived key. Each value carries its own salt and nonce, so
// no key file is kept on disk.
type Crypt struct {
	passphrase string
}

// NewCrypt creates a Crypt bound to the given passphrase.
func NewCrypt(passphrase string) *Crypt {
	return &Crypt{passphrase: passphrase}
}

// CryptFromEnv creates a Crypt from the SIDEKICK_PASSPHRASE environment
// variable. The second return is false when no passphrase is set.
func CryptFromEnv() (*Crypt, bool) {
	passphrase := os.Getenv(PassphraseEnv)
	if passphrase == "" {
		return nil, false
	}
	return NewCrypt(passphrase), true
}

// EncryptString encrypts a plaintext value.
// Output format: ENC:base64(salt || nonce || ciphertext || tag).
func (c *Crypt) EncryptString(plaintext string) (string, error) {
	if c.passphrase == "" {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := DeriveKey(c.passphrase, salt)
	// SECURITY: Zero key material to prevent memory disclosure
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	return EncryptedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString decrypts a value produced by EncryptString. Values
// without the ENC: prefix are returned unchanged, so plaintext keys in
// older config files keep working.
func (c *Crypt) DecryptString(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if c.passphrase == "" {
		return "", ErrNoPassphrase
	}

	encoded := strings.TrimPrefix(value, EncryptedPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding: %w", err)
	}

	if len(data) < SaltSize+NonceSize {
		return "", ErrInvalidCiphertext
	}

	salt := data[:SaltSize]
	nonce := data[SaltSize : SaltSize+NonceSize]
	sealed := data[SaltSize+NonceSize:]

	key := DeriveKey(c.passphrase, salt)
	// SECURITY: Zero key material to prevent memory disclosure
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// newGCM builds the AES-GCM AEAD for a derived key.
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return gcm, nil
}
