// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth supplies the authentication building blocks of the ingestion
// core: AES-GCM sealing of credential fields, the per-connection
// TokenManager that refreshes OAuth access tokens reactively, the
// browser-based authorization flow, and the registry of external auth
// providers that broker credentials on a connection's behalf.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/logger"
)

// Canonical credential field names shared by connectors, the browser flow,
// and the token manager.
const (
	FieldAccessToken  = "access_token"
	FieldRefreshToken = "refresh_token"
	FieldExpiresAt    = "expires_at"
)

// Persister stores a refreshed token pair. Called before the new pair
// becomes visible to readers, so a persistence failure leaves the manager
// on the old pair. Implementations re-seal the credential fields and write
// them through the credential store in one update.
type Persister func(ctx context.Context, accessToken, refreshToken string, expiry time.Time) error

// TokenManager holds the OAuth token pair of one source connection. It
// hands out the current access token without blocking and serializes
// refreshes: concurrent callers hitting a 401 share a single in-flight
// refresh and all see its result.
type TokenManager struct {
	cfg     *oauth2.Config
	persist Persister

	mu      sync.RWMutex
	access  string
	refresh string
	expiry  time.Time

	group singleflight.Group
}

// NewTokenManager creates a manager seeded with the stored token pair.
// persist may be nil for connections whose provider never rotates the
// refresh token.
func NewTokenManager(cfg *oauth2.Config, access, refresh string, expiry time.Time, persist Persister) *TokenManager {
	return &TokenManager{
		cfg:     cfg,
		persist: persist,
		access:  access,
		refresh: refresh,
		expiry:  expiry,
	}
}

// Current returns the last-known access token. Never blocks on a refresh
// in progress.
func (m *TokenManager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

// Expiry returns the last-known expiry of the access token. Zero when the
// provider did not report one.
func (m *TokenManager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiry
}

// RefreshOnUnauthorized exchanges the refresh token for a new access token.
// Connections without a refresh token (static keys, browser-only scopes,
// proxy auth) get the current token back unchanged; the 401 that prompted
// the call surfaces to the caller on its retry.
func (m *TokenManager) RefreshOnUnauthorized(ctx context.Context) (string, error) {
	m.mu.RLock()
	refresh := m.refresh
	current := m.access
	m.mu.RUnlock()

	if refresh == "" {
		return current, nil
	}

	token, err, shared := m.group.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		logger.Debugw("token refresh shared with concurrent caller")
	}
	return token.(string), nil
}

// doRefresh performs the refresh grant and swaps the pair. A rotated
// refresh token is persisted before the swap; losing the rotation would
// strand the connection, so a persistence failure fails the refresh.
func (m *TokenManager) doRefresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	stale := &oauth2.Token{
		RefreshToken: m.refresh,
		Expiry:       time.Now().Add(-time.Minute),
	}
	m.mu.RUnlock()

	fresh, err := m.cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return "", classifyRefreshError(err)
	}

	newRefresh := fresh.RefreshToken
	if newRefresh == "" {
		newRefresh = stale.RefreshToken
	}

	if newRefresh != stale.RefreshToken && m.persist != nil {
		if err := m.persist(ctx, fresh.AccessToken, newRefresh, fresh.Expiry); err != nil {
			return "", fmt.Errorf("%w: persisting rotated refresh token: %v", core.ErrTokenRefresh, err)
		}
		logger.Debugw("persisted rotated refresh token")
	}

	m.mu.Lock()
	m.access = fresh.AccessToken
	m.refresh = newRefresh
	m.expiry = fresh.Expiry
	m.mu.Unlock()

	return fresh.AccessToken, nil
}

// classifyRefreshError sorts token endpoint failures into transient
// (retriable) and unrecoverable (invalid_grant, revoked credentials).
func classifyRefreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: token endpoint unavailable: %v", core.ErrTransient, err)
		}
		reason := rerr.ErrorCode
		if reason == "" && rerr.Response != nil {
			reason = rerr.Response.Status
		}
		return fmt.Errorf("%w: %s", core.ErrTokenRefresh, reason)
	}
	return fmt.Errorf("refreshing token: %w", err)
}

// CredentialFields builds the canonical field map for an OAuth token pair,
// ready for sealing.
func CredentialFields(access, refresh string, expiry time.Time) map[string]any {
	fields := map[string]any{FieldAccessToken: access}
	if refresh != "" {
		fields[FieldRefreshToken] = refresh
	}
	if !expiry.IsZero() {
		fields[FieldExpiresAt] = expiry.UTC().Format(time.RFC3339)
	}
	return fields
}

// TokenFromFields extracts the OAuth token pair from a decrypted credential
// field map. Absent fields come back zero-valued.
func TokenFromFields(fields map[string]any) (access, refresh string, expiry time.Time) {
	access, _ = fields[FieldAccessToken].(string)
	refresh, _ = fields[FieldRefreshToken].(string)
	if raw, ok := fields[FieldExpiresAt].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			expiry = t
		}
	}
	return access, refresh, expiry
}
