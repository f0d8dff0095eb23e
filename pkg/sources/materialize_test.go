// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
)

func TestMaterializeFileDownloadsContent(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.7 report body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "drive-token", r.Header.Get("X-Download-Auth"))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	ent := &entity.Entity{
		EntityID: "file-1",
		File: &entity.File{
			Name:        "q3-report.pdf",
			MimeType:    "application/pdf",
			DownloadURL: srv.URL + "/files/q3-report.pdf",
			Headers:     map[string]string{"X-Download-Auth": "drive-token"},
		},
	}

	err := MaterializeFile(context.Background(), fastClient(), ent)
	require.NoError(t, err)
	assert.Equal(t, payload, ent.File.Content)
	assert.EqualValues(t, len(payload), ent.File.Size)
}

func TestMaterializeFileSkipsWhenNothingToFetch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := fastClient()
	ctx := context.Background()

	require.NoError(t, MaterializeFile(ctx, client, &entity.Entity{EntityID: "no-file"}))

	preloaded := &entity.Entity{
		EntityID: "preloaded",
		File: &entity.File{
			Name:        "inline.txt",
			DownloadURL: srv.URL,
			Content:     []byte("already here"),
		},
	}
	require.NoError(t, MaterializeFile(ctx, client, preloaded))
	assert.Equal(t, []byte("already here"), preloaded.File.Content)

	noURL := &entity.Entity{EntityID: "no-url", File: &entity.File{Name: "ghost.txt"}}
	require.NoError(t, MaterializeFile(ctx, client, noURL))

	assert.EqualValues(t, 0, calls.Load())
}

func TestMaterializeFileRejectsOversizedContent(t *testing.T) {
	t.Parallel()

	chunk := bytes.Repeat([]byte("x"), 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for written := 0; written <= maxFileBytes; written += len(chunk) {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ent := &entity.Entity{
		EntityID: "huge",
		File:     &entity.File{Name: "dump.bin", DownloadURL: srv.URL},
	}

	err := MaterializeFile(context.Background(), fastClient(), ent)
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Empty(t, ent.File.Content)
}
