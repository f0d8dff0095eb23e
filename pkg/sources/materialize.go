// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
)

// maxFileBytes caps downloaded file content at 50 MiB. Larger files are
// skipped rather than truncated.
const maxFileBytes = 50 << 20

// MaterializeFile downloads the content behind a file entity's DownloadURL
// so downstream transformers can parse it. Entities without file metadata,
// or whose content the connector already attached, pass through untouched.
func MaterializeFile(ctx context.Context, client *HTTPClient, ent *entity.Entity) error {
	if ent.File == nil || len(ent.File.Content) > 0 || ent.File.DownloadURL == "" {
		return nil
	}

	header := make(http.Header, len(ent.File.Headers))
	for k, v := range ent.File.Headers {
		header.Set(k, v)
	}

	resp, err := client.Get(ctx, ent.File.DownloadURL, header)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", ent.File.Name, err)
	}
	defer closeBody(resp)

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes+1))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", core.ErrTransient, ent.File.Name, err)
	}
	if len(content) > maxFileBytes {
		return fmt.Errorf("%w: %s exceeds %d byte limit", core.ErrValidation, ent.File.Name, maxFileBytes)
	}

	ent.File.Content = content
	ent.File.Size = int64(len(content))
	return nil
}
