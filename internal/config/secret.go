// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// secret.go - At-rest encryption for sensitive config fields.
//
// Encrypted values carry the ENC: prefix followed by base64 of
// salt || nonce || ciphertext. The key is derived from a passphrase
// with PBKDF2-SHA256. Decryption verifies the GCM authentication tag,
// so a wrong passphrase or tampered value fails loudly.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedPrefix marks an encrypted config value.
const EncryptedPrefix = "ENC:"

const (
	saltSize  = 32
	nonceSize = 12
	keySize   = 32

	// OWASP 2023 recommendation for PBKDF2-SHA256.
	pbkdf2Iterations = 600000
)

var (
	// ErrInvalidCiphertext indicates a malformed encrypted value.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionFailed indicates authentication failure
	// (wrong passphrase or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed")
)

// deriveKey derives an AES-256 key from a passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// EncryptString encrypts plaintext with a passphrase-derived key and
// returns the ENC:-prefixed encoded value.
func EncryptString(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	buf := make([]byte, 0, saltSize+nonceSize+len(sealed))
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

// DecryptString decrypts an ENC:-prefixed value. A value without the
// prefix is returned as-is.
func DecryptString(value, passphrase string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: bad base64: %v", ErrInvalidCiphertext, err)
	}
	if len(data) < saltSize+nonceSize {
		return "", ErrInvalidCiphertext
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	sealed := data[saltSize+nonceSize:]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsEncrypted reports whether a value carries the ENC: prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
