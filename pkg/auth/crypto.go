// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/airweave/airweave-go/pkg/core"
)

// Box seals credential field maps with AES-256-GCM. Only ciphertext ever
// reaches the metastore; plaintext fields live in memory for the duration
// of a job or a search.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a Box from a 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", core.ErrValidation, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// NewBoxFromBase64 creates a Box from a base64-encoded 32-byte key, the
// form the key takes in configuration.
func NewBoxFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding encryption key: %v", core.ErrValidation, err)
	}
	return NewBox(key)
}

// Seal encrypts a credential field map. The nonce is prepended to the
// ciphertext.
func (b *Box) Seal(fields map[string]any) ([]byte, error) {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling credential fields: %w", err)
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed credential field map.
func (b *Box) Open(sealed []byte) (map[string]any, error) {
	if len(sealed) < b.aead.NonceSize() {
		return nil, fmt.Errorf("%w: sealed credential too short", core.ErrAuthFailed)
	}
	nonce, ciphertext := sealed[:b.aead.NonceSize()], sealed[b.aead.NonceSize():]

	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sealed credential: %v", core.ErrAuthFailed, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling credential fields: %w", err)
	}
	return fields, nil
}
