// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/airweave/airweave-go/pkg/core"
)

func oauthConfig(serverURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:  serverURL + "/authorize",
			TokenURL: serverURL + "/token",
		},
	}
}

func writeToken(w http.ResponseWriter, access, refresh string) {
	w.Header().Set("Content-Type", "application/json")
	body := fmt.Sprintf(`{"access_token":%q,"token_type":"Bearer","expires_in":3600`, access)
	if refresh != "" {
		body += fmt.Sprintf(`,"refresh_token":%q`, refresh)
	}
	body += "}"
	_, _ = w.Write([]byte(body))
}

type recordingPersister struct {
	mu      sync.Mutex
	calls   int
	access  string
	refresh string
	err     error
}

func (p *recordingPersister) persist(_ context.Context, access, refresh string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.access = access
	p.refresh = refresh
	return p.err
}

func TestRefreshRotatesAndPersists(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "refresh-1", r.FormValue("refresh_token"))
		writeToken(w, "access-2", "refresh-2")
	}))
	defer srv.Close()

	persister := &recordingPersister{}
	tm := NewTokenManager(oauthConfig(srv.URL), "access-1", "refresh-1", time.Now(), persister.persist)

	got, err := tm.RefreshOnUnauthorized(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", got)
	assert.Equal(t, "access-2", tm.Current())

	// The rotated pair was persisted before becoming visible.
	assert.Equal(t, 1, persister.calls)
	assert.Equal(t, "access-2", persister.access)
	assert.Equal(t, "refresh-2", persister.refresh)
}

func TestRefreshWithoutRotationSkipsPersist(t *testing.T) {
	t.Parallel()
	var sentRefresh atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		sentRefresh.Store(r.FormValue("refresh_token"))
		writeToken(w, "access-2", "")
	}))
	defer srv.Close()

	persister := &recordingPersister{}
	tm := NewTokenManager(oauthConfig(srv.URL), "access-1", "refresh-1", time.Now(), persister.persist)

	_, err := tm.RefreshOnUnauthorized(context.Background())
	require.NoError(t, err)
	assert.Zero(t, persister.calls)

	// The old refresh token is still in use on the next refresh.
	_, err = tm.RefreshOnUnauthorized(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", sentRefresh.Load())
}

func TestConcurrentRefreshesShareOneFlight(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		writeToken(w, "access-2", "")
	}))
	defer srv.Close()

	tm := NewTokenManager(oauthConfig(srv.URL), "access-1", "refresh-1", time.Now(), nil)

	const callers = 5
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := tm.RefreshOnUnauthorized(context.Background())
			assert.NoError(t, err)
			results <- tok
		}()
	}

	// Let every caller join the in-flight refresh before it completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), calls.Load())
	for tok := range results {
		assert.Equal(t, "access-2", tok)
	}
}

func TestNoRefreshTokenReturnsCurrent(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeToken(w, "never", "")
	}))
	defer srv.Close()

	tm := NewTokenManager(oauthConfig(srv.URL), "static-key", "", time.Time{}, nil)

	got, err := tm.RefreshOnUnauthorized(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static-key", got)
	assert.Zero(t, calls.Load())
}

func TestPersistFailureKeepsOldPair(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeToken(w, "access-2", "refresh-2")
	}))
	defer srv.Close()

	persister := &recordingPersister{err: errors.New("store unavailable")}
	tm := NewTokenManager(oauthConfig(srv.URL), "access-1", "refresh-1", time.Now(), persister.persist)

	_, err := tm.RefreshOnUnauthorized(context.Background())
	assert.ErrorIs(t, err, core.ErrTokenRefresh)
	assert.Equal(t, "access-1", tm.Current())
}

func TestRefreshErrorClassification(t *testing.T) {
	t.Parallel()

	t.Run("invalid grant is unrecoverable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		defer srv.Close()

		tm := NewTokenManager(oauthConfig(srv.URL), "access-1", "refresh-1", time.Now(), nil)
		_, err := tm.RefreshOnUnauthorized(context.Background())
		assert.ErrorIs(t, err, core.ErrTokenRefresh)
		assert.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("server error is transient", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		tm := NewTokenManager(oauthConfig(srv.URL), "access-1", "refresh-1", time.Now(), nil)
		_, err := tm.RefreshOnUnauthorized(context.Background())
		assert.ErrorIs(t, err, core.ErrTransient)
	})
}

func TestCredentialFieldRoundtrip(t *testing.T) {
	t.Parallel()
	expiry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	fields := CredentialFields("tok", "ref", expiry)
	access, refresh, gotExpiry := TokenFromFields(fields)
	assert.Equal(t, "tok", access)
	assert.Equal(t, "ref", refresh)
	assert.True(t, gotExpiry.Equal(expiry))

	// Static keys carry no refresh token and no expiry.
	fields = CredentialFields("tok", "", time.Time{})
	_, hasRefresh := fields[FieldRefreshToken]
	assert.False(t, hasRefresh)
	_, hasExpiry := fields[FieldExpiresAt]
	assert.False(t, hasExpiry)
}
