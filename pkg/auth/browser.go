// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/airweave/airweave-go/pkg/core"
)

// defaultStateTTL bounds how long an authorization redirect stays valid.
const defaultStateTTL = 15 * time.Minute

// BrowserFlow drives the user-interactive OAuth flow of a source
// connection. The state parameter is a signed JWT carrying the connection
// id, so the callback needs no server-side session to find its connection.
type BrowserFlow struct {
	cfg        *oauth2.Config
	signingKey []byte
	ttl        time.Duration
}

// NewBrowserFlow creates a flow signing state tokens with key. A zero ttl
// uses the default of fifteen minutes.
func NewBrowserFlow(cfg *oauth2.Config, signingKey []byte, ttl time.Duration) *BrowserFlow {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &BrowserFlow{cfg: cfg, signingKey: signingKey, ttl: ttl}
}

type stateClaims struct {
	ConnectionID string `json:"conn"`
	jwt.RegisteredClaims
}

// AuthorizeURL returns the provider authorization URL for a pending
// connection, with offline access requested so a refresh token is granted
// where the provider supports it.
func (f *BrowserFlow) AuthorizeURL(connectionID uuid.UUID) (string, error) {
	now := time.Now()
	claims := stateClaims{
		ConnectionID: connectionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.ttl)),
		},
	}

	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing state token: %w", err)
	}
	return f.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Grant is the outcome of a completed authorization: the connection the
// user approved and the token pair the provider issued.
type Grant struct {
	ConnectionID uuid.UUID
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Exchange verifies the callback state and trades the authorization code
// for tokens. A forged, tampered, or expired state fails with
// core.ErrAuthFailed.
func (f *BrowserFlow) Exchange(ctx context.Context, state, code string) (Grant, error) {
	connectionID, err := f.verifyState(state)
	if err != nil {
		return Grant{}, err
	}

	token, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: exchanging authorization code: %v", core.ErrAuthFailed, err)
	}

	return Grant{
		ConnectionID: connectionID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

func (f *BrowserFlow) verifyState(state string) (uuid.UUID, error) {
	return StateConnection(state, f.signingKey)
}

// StateConnection verifies a state token and returns the connection id it
// carries. Callers use it to locate the pending connection before the code
// exchange.
func StateConnection(state string, signingKey []byte) (uuid.UUID, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: verifying state: %v", core.ErrAuthFailed, err)
	}

	connectionID, err := uuid.Parse(claims.ConnectionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: state carries no connection id", core.ErrAuthFailed)
	}
	return connectionID, nil
}
