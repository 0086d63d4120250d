// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/sha256"
	"fmt"

	"github.com/s0up/mlm/internal/crypto"
)

// deriveEncryptionKey turns the operator's sessionSecret into the 32-byte
// key internal/crypto.AESEncryptor requires, so one secret covers both the
// session cookie HMAC and qBittorrent password encryption at rest without
// asking the operator to manage a second value.
func deriveEncryptionKey(sessionSecret string) [32]byte {
	return sha256.Sum256([]byte(sessionSecret))
}

// EncryptQbitPassword encrypts plaintext for storage in a [[qbittorrent]]
// block's password field, run once by `mlm auth encrypt-password`.
func EncryptQbitPassword(sessionSecret, plaintext string) (string, error) {
	key := deriveEncryptionKey(sessionSecret)
	enc, err := crypto.NewAESEncryptor(key[:])
	if err != nil {
		return "", fmt.Errorf("build encryptor: %w", err)
	}
	return enc.Encrypt(plaintext)
}

// DecryptQbitPassword reverses EncryptQbitPassword, called once per
// configured instance when cmd/mlm connects the qBittorrent pool.
func DecryptQbitPassword(sessionSecret, ciphertext string) (string, error) {
	key := deriveEncryptionKey(sessionSecret)
	enc, err := crypto.NewAESEncryptor(key[:])
	if err != nil {
		return "", fmt.Errorf("build encryptor: %w", err)
	}
	return enc.Decrypt(ciphertext)
}
