// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/core"
)

var stateKey = []byte("0123456789abcdef0123456789abcdef")

func TestAuthorizeURLCarriesSignedState(t *testing.T) {
	t.Parallel()
	flow := NewBrowserFlow(oauthConfig("https://provider.example"), stateKey, 0)
	connectionID := uuid.New()

	raw, err := flow.AuthorizeURL(connectionID)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", parsed.Path)
	assert.Equal(t, "client-id", parsed.Query().Get("client_id"))
	assert.Equal(t, "offline", parsed.Query().Get("access_type"))

	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	var claims stateClaims
	_, err = jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return stateKey, nil
	})
	require.NoError(t, err)
	assert.Equal(t, connectionID.String(), claims.ConnectionID)
}

func TestExchangeRoundtrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "the-code", r.FormValue("code"))
		writeToken(w, "access-1", "refresh-1")
	}))
	defer srv.Close()

	flow := NewBrowserFlow(oauthConfig(srv.URL), stateKey, time.Minute)
	connectionID := uuid.New()

	raw, err := flow.AuthorizeURL(connectionID)
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	grant, err := flow.Exchange(context.Background(), state, "the-code")
	require.NoError(t, err)
	assert.Equal(t, connectionID, grant.ConnectionID)
	assert.Equal(t, "access-1", grant.AccessToken)
	assert.Equal(t, "refresh-1", grant.RefreshToken)
}

func TestExchangeRejectsForgedState(t *testing.T) {
	t.Parallel()
	flow := NewBrowserFlow(oauthConfig("https://provider.example"), stateKey, time.Minute)

	_, err := flow.Exchange(context.Background(), "not-a-jwt", "code")
	assert.ErrorIs(t, err, core.ErrAuthFailed)

	// A state signed with a different key is rejected.
	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	otherFlow := NewBrowserFlow(oauthConfig("https://provider.example"), otherKey, time.Minute)
	raw, err := otherFlow.AuthorizeURL(uuid.New())
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	_, err = flow.Exchange(context.Background(), parsed.Query().Get("state"), "code")
	assert.ErrorIs(t, err, core.ErrAuthFailed)
}

func TestExchangeRejectsExpiredState(t *testing.T) {
	t.Parallel()
	flow := NewBrowserFlow(oauthConfig("https://provider.example"), stateKey, time.Minute)

	expired := stateClaims{
		ConnectionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-30 * time.Minute)),
		},
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString(stateKey)
	require.NoError(t, err)

	_, err = flow.Exchange(context.Background(), state, "code")
	assert.ErrorIs(t, err, core.ErrAuthFailed)
}

func TestProviderRegistry(t *testing.T) {
	t.Parallel()
	registry := NewProviderRegistry()

	_, err := registry.Get("composio")
	assert.ErrorIs(t, err, core.ErrNotFound)

	registry.Register(staticProvider{name: "composio"})
	p, err := registry.Get("composio")
	require.NoError(t, err)
	assert.Equal(t, "composio", p.Name())
	assert.Equal(t, []string{"composio"}, registry.Names())
}

type staticProvider struct{ name string }

func (p staticProvider) Name() string { return p.name }

func (staticProvider) Resolve(context.Context, string, map[string]any) (AuthResult, error) {
	return AuthResult{Mode: CredentialDirect, Fields: map[string]any{"api_key": "k"}}, nil
}
