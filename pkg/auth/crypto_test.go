// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/core"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestBoxSealOpenRoundtrip(t *testing.T) {
	t.Parallel()
	box, err := NewBox(testKey(0x42))
	require.NoError(t, err)

	fields := map[string]any{
		"access_token":  "tok-123",
		"refresh_token": "ref-456",
		"api_key":       "sk-789",
	}

	sealed, err := box.Seal(fields)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "tok-123")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, fields, opened)
}

func TestBoxSealUsesFreshNonce(t *testing.T) {
	t.Parallel()
	box, err := NewBox(testKey(0x42))
	require.NoError(t, err)

	fields := map[string]any{"api_key": "same"}
	first, err := box.Seal(fields)
	require.NoError(t, err)
	second, err := box.Seal(fields)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestBoxOpenRejectsTamper(t *testing.T) {
	t.Parallel()
	box, err := NewBox(testKey(0x42))
	require.NoError(t, err)

	sealed, err := box.Seal(map[string]any{"api_key": "secret"})
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = box.Open(sealed)
	assert.ErrorIs(t, err, core.ErrAuthFailed)
}

func TestBoxOpenRejectsWrongKey(t *testing.T) {
	t.Parallel()
	box, err := NewBox(testKey(0x42))
	require.NoError(t, err)
	other, err := NewBox(testKey(0x43))
	require.NoError(t, err)

	sealed, err := box.Seal(map[string]any{"api_key": "secret"})
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, core.ErrAuthFailed)

	_, err = other.Open([]byte("short"))
	assert.ErrorIs(t, err, core.ErrAuthFailed)
}

func TestNewBoxRejectsBadKey(t *testing.T) {
	t.Parallel()
	_, err := NewBox([]byte("too short"))
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = NewBoxFromBase64("not base64!!!")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = NewBoxFromBase64(base64.StdEncoding.EncodeToString(testKey(0x01)))
	assert.NoError(t, err)
}
