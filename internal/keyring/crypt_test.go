// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package keyring

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// ENCRYPT / DECRYPT TESTS
// =============================================================================

func TestCrypt_RoundTrip(t *testing.T) {
	c := NewCrypt("correct horse battery staple")

	plaintexts := []string{
		"sk-proj-abc123",
		"",
		"key with spaces and\nnewlines",
		"ünïcödé-кључ-鍵",
	}

	for _, plain := range plaintexts {
		encrypted, err := c.EncryptString(plain)
		require.NoError(t, err)

		if !strings.HasPrefix(encrypted, EncryptedPrefix) {
			t.Errorf("EncryptString(%q) missing %q prefix: %q", plain, EncryptedPrefix, encrypted)
		}
		if strings.Contains(encrypted, plain) && plain != "" {
			t.Errorf("ciphertext contains plaintext for %q", plain)
		}

		decrypted, err := c.DecryptString(encrypted)
		require.NoError(t, err)
		if decrypted != plain {
			t.Errorf("round trip = %q, want %q", decrypted, plain)
		}
	}
}

func TestCrypt_UniqueCiphertexts(t *testing.T) {
	c := NewCrypt("passphrase")

	// Fresh salt and nonce per value: encrypting twice never repeats.
	first, err := c.EncryptString("same value")
	require.NoError(t, err)
	second, err := c.EncryptString("same value")
	require.NoError(t, err)

	if first == second {
		t.Error("two encryptions of the same value produced identical ciphertexts")
	}
}

func TestCrypt_WrongPassphraseFails(t *testing.T) {
	encrypted, err := NewCrypt("right").EncryptString("secret")
	require.NoError(t, err)

	_, err = NewCrypt("wrong").DecryptString(encrypted)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("DecryptString with wrong passphrase = %v, want ErrDecryptionFailed", err)
	}
}

func TestCrypt_PlaintextPassthrough(t *testing.T) {
	// Values without the ENC: prefix are returned unchanged so plaintext
	// keys in older config files keep working.
	got, err := NewCrypt("any").DecryptString("sk-plain-key")
	require.NoError(t, err)
	if got != "sk-plain-key" {
		t.Errorf("DecryptString(plain) = %q", got)
	}
}

func TestCrypt_NoPassphrase(t *testing.T) {
	c := NewCrypt("")

	if _, err := c.EncryptString("secret"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("EncryptString without passphrase = %v, want ErrNoPassphrase", err)
	}
	if _, err := c.DecryptString(EncryptedPrefix + "Zm9v"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("DecryptString without passphrase = %v, want ErrNoPassphrase", err)
	}
}

func TestCrypt_MalformedCiphertext(t *testing.T) {
	c := NewCrypt("passphrase")

	if _, err := c.DecryptString(EncryptedPrefix + "!!!not-base64!!!"); err == nil {
		t.Error("invalid base64 should fail")
	}
	// Valid base64 but shorter than salt+nonce.
	if _, err := c.DecryptString(EncryptedPrefix + "Zm9vYmFy"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("short ciphertext = %v, want ErrInvalidCiphertext", err)
	}
}

func TestCryptFromEnv(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	if _, ok := CryptFromEnv(); ok {
		t.Error("CryptFromEnv with empty env should report not configured")
	}

	t.Setenv(PassphraseEnv, "from-env")
	c, ok := CryptFromEnv()
	require.True(t, ok)

	encrypted, err := c.EncryptString("v")
	require.NoError(t, err)
	got, err := c.DecryptString(encrypted)
	require.NoError(t, err)
	if got != "v" {
		t.Errorf("round trip through env crypt = %q", got)
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("sk-proj-abc123")

	if len(fp) != 8 {
		t.Errorf("Fingerprint length = %d, want 8 hex chars", len(fp))
	}
	if fp != Fingerprint("sk-proj-abc123") {
		t.Error("Fingerprint should be deterministic")
	}
	if fp == Fingerprint("sk-proj-abc124") {
		t.Error("distinct keys should fingerprint differently")
	}
	if strings.Contains("sk-proj-abc123", fp) {
		t.Error("fingerprint must not be a substring of the key")
	}
}
