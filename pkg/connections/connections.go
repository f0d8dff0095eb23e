// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package connections manages source connections: validation against the
// connector registry, credential sealing, the OAuth browser flow, and the
// source_connections quota.
package connections

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/airweave/airweave-go/pkg/auth"
	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/metastore"
	"github.com/airweave/airweave-go/pkg/quota"
	"github.com/airweave/airweave-go/pkg/sources"
)

// Service manages source connections.
type Service struct {
	connections metastore.ConnectionStore
	credentials metastore.CredentialStore
	collections metastore.CollectionStore
	cursors     metastore.CursorStore
	registry    *sources.Registry
	providers   *auth.ProviderRegistry
	box         *auth.Box
	quota       *quota.Guard
	signingKey  []byte
	log         *slog.Logger
}

// Config wires a connection service. Registry and Box are required; the
// provider registry, quota guard and signing key are optional and disable
// auth_provider connections, quota enforcement and the browser flow
// respectively.
type Config struct {
	Stores     *metastore.Stores
	Registry   *sources.Registry
	Providers  *auth.ProviderRegistry
	Box        *auth.Box
	Quota      *quota.Guard
	SigningKey []byte
	Logger     *slog.Logger
}

// New validates the wiring and builds a service.
func New(cfg Config) (*Service, error) {
	if cfg.Stores == nil {
		return nil, fmt.Errorf("stores are required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("source registry is required")
	}
	if cfg.Box == nil {
		return nil, fmt.Errorf("credential box is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		connections: cfg.Stores.Connections,
		credentials: cfg.Stores.Credentials,
		collections: cfg.Stores.Collections,
		cursors:     cfg.Stores.Cursors,
		registry:    cfg.Registry,
		providers:   cfg.Providers,
		box:         cfg.Box,
		quota:       cfg.Quota,
		signingKey:  cfg.SigningKey,
		log:         cfg.Logger,
	}, nil
}

// CreateRequest describes one new source connection.
type CreateRequest struct {
	Name       string
	ShortName  string
	Collection string
	Variant    core.AuthVariant

	// AuthFields are the raw credential fields for direct and oauth_token
	// connections. Sealed before persistence; never stored in clear.
	AuthFields map[string]any

	// Config carries template fields and connector options, including the
	// OAuth client settings for browser-flow connections.
	Config map[string]any

	// AuthProvider names the brokering provider for auth_provider
	// connections.
	AuthProvider string
}

// CreateResult is the created connection plus, for browser-flow
// connections, the authorization URL the user must visit.
type CreateResult struct {
	Connection   core.SourceConnection
	AuthorizeURL string
}

// Create validates the request against the connector descriptor, seals any
// supplied credentials, and persists the connection. Browser-flow
// connections start in pending_auth and become active when the OAuth
// callback completes.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, req CreateRequest) (CreateResult, error) {
	desc, err := s.validate(ctx, orgID, &req)
	if err != nil {
		return CreateResult{}, err
	}

	if s.quota != nil {
		if err := s.quota.Allowed(ctx, orgID, core.ActionSourceConnections, 1); err != nil {
			return CreateResult{}, err
		}
	}

	conn := core.SourceConnection{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           req.Name,
		ShortName:      req.ShortName,
		AuthVariant:    req.Variant,
		Config:         req.Config,
		Status:         core.ConnectionActive,
	}
	coll, err := s.collections.GetByReadableID(ctx, orgID, req.Collection)
	if err != nil {
		return CreateResult{}, fmt.Errorf("resolving collection %q: %w", req.Collection, err)
	}
	conn.CollectionID = coll.ID

	var authorizeURL string
	switch req.Variant {
	case core.AuthDirect, core.AuthOAuthToken:
		credID, err := s.sealCredential(ctx, orgID, desc.ShortName, req.Variant, req.AuthFields)
		if err != nil {
			return CreateResult{}, err
		}
		conn.CredentialID = &credID

	case core.AuthOAuthBrowser:
		conn.Status = core.ConnectionPendingAuth
		flow, err := s.browserFlow(conn.Config)
		if err != nil {
			return CreateResult{}, err
		}
		authorizeURL, err = flow.AuthorizeURL(conn.ID)
		if err != nil {
			return CreateResult{}, fmt.Errorf("building authorization url: %w", err)
		}

	case core.AuthProvider:
		conn.AuthProviderName = req.AuthProvider
	}

	if err := s.connections.Create(ctx, &conn); err != nil {
		return CreateResult{}, fmt.Errorf("creating connection: %w", err)
	}
	if s.quota != nil {
		if err := s.quota.Increment(ctx, orgID, core.ActionSourceConnections, 1); err != nil {
			s.log.Warn("recording connection usage failed", "org_id", orgID.String(), "error", err)
		}
	}

	s.log.Info("source connection created",
		"connection_id", conn.ID.String(), "source", conn.ShortName,
		"auth_variant", string(conn.AuthVariant), "status", string(conn.Status))
	return CreateResult{Connection: conn, AuthorizeURL: authorizeURL}, nil
}

func (s *Service) validate(ctx context.Context, orgID uuid.UUID, req *CreateRequest) (sources.Descriptor, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return sources.Descriptor{}, fmt.Errorf("%w: connection name is required", core.ErrValidation)
	}

	desc, ok := s.registry.Get(req.ShortName)
	if !ok {
		return sources.Descriptor{}, fmt.Errorf("unknown source %q: %w", req.ShortName, core.ErrNotFound)
	}
	if !desc.SupportsAuthVariant(req.Variant) {
		return sources.Descriptor{}, fmt.Errorf("%w: source %s does not support auth variant %q",
			core.ErrValidation, req.ShortName, req.Variant)
	}
	if err := desc.ValidateConfig(req.Config); err != nil {
		return sources.Descriptor{}, err
	}

	switch req.Variant {
	case core.AuthDirect:
		if len(req.AuthFields) == 0 {
			return sources.Descriptor{}, fmt.Errorf("%w: direct auth requires credential fields", core.ErrValidation)
		}
	case core.AuthOAuthToken:
		if token, _ := req.AuthFields[auth.FieldAccessToken].(string); token == "" {
			return sources.Descriptor{}, fmt.Errorf("%w: oauth_token auth requires %q", core.ErrValidation, auth.FieldAccessToken)
		}
	case core.AuthOAuthBrowser:
		if len(s.signingKey) == 0 {
			return sources.Descriptor{}, fmt.Errorf("%w: browser flow is not configured", core.ErrValidation)
		}
	case core.AuthProvider:
		if s.providers == nil {
			return sources.Descriptor{}, fmt.Errorf("%w: no auth providers configured", core.ErrValidation)
		}
		if _, err := s.providers.Get(req.AuthProvider); err != nil {
			return sources.Descriptor{}, err
		}
	default:
		return sources.Descriptor{}, fmt.Errorf("%w: unknown auth variant %q", core.ErrValidation, req.Variant)
	}
	return desc, nil
}

func (s *Service) sealCredential(ctx context.Context, orgID uuid.UUID, shortName string, variant core.AuthVariant, fields map[string]any) (uuid.UUID, error) {
	sealed, err := s.box.Seal(fields)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sealing credential: %w", err)
	}
	cred := core.IntegrationCredential{
		ID:              uuid.New(),
		OrganizationID:  orgID,
		SourceShortName: shortName,
		AuthVariant:     variant,
		EncryptedFields: sealed,
	}
	if err := s.credentials.Create(ctx, &cred); err != nil {
		return uuid.Nil, fmt.Errorf("storing credential: %w", err)
	}
	return cred.ID, nil
}

// CompleteCallback finishes a browser flow: it verifies the state, exchanges
// the code, seals the granted tokens and activates the connection. Replayed
// callbacks for an already active connection return it unchanged instead of
// re-exchanging a code the provider has already consumed.
func (s *Service) CompleteCallback(ctx context.Context, orgID uuid.UUID, state, code string) (core.SourceConnection, error) {
	connectionID, err := auth.StateConnection(state, s.signingKey)
	if err != nil {
		return core.SourceConnection{}, err
	}
	conn, err := s.connections.Get(ctx, orgID, connectionID)
	if err != nil {
		return core.SourceConnection{}, err
	}
	if conn.Status != core.ConnectionPendingAuth {
		return conn, nil
	}

	flow, err := s.browserFlow(conn.Config)
	if err != nil {
		return core.SourceConnection{}, err
	}
	grant, err := flow.Exchange(ctx, state, code)
	if err != nil {
		return core.SourceConnection{}, err
	}

	fields := map[string]any{
		auth.FieldAccessToken: grant.AccessToken,
	}
	if grant.RefreshToken != "" {
		fields[auth.FieldRefreshToken] = grant.RefreshToken
	}
	if !grant.Expiry.IsZero() {
		fields[auth.FieldExpiresAt] = grant.Expiry.UTC().Format(time.RFC3339)
	}
	credID, err := s.sealCredential(ctx, orgID, conn.ShortName, core.AuthOAuthBrowser, fields)
	if err != nil {
		return core.SourceConnection{}, err
	}

	conn.CredentialID = &credID
	conn.Status = core.ConnectionActive
	if err := s.connections.Update(ctx, &conn); err != nil {
		return core.SourceConnection{}, fmt.Errorf("activating connection: %w", err)
	}

	s.log.Info("oauth callback completed", "connection_id", conn.ID.String(), "source", conn.ShortName)
	return conn, nil
}

// browserFlow builds the OAuth flow from the connection's client settings.
func (s *Service) browserFlow(config map[string]any) (*auth.BrowserFlow, error) {
	cfg, err := oauthConfig(config)
	if err != nil {
		return nil, err
	}
	return auth.NewBrowserFlow(cfg, s.signingKey, 0), nil
}

func oauthConfig(config map[string]any) (*oauth2.Config, error) {
	str := func(key string) string {
		v, _ := config[key].(string)
		return v
	}
	authURL, tokenURL := str("auth_url"), str("token_url")
	if authURL == "" || tokenURL == "" {
		return nil, fmt.Errorf("%w: browser flow requires auth_url and token_url in config", core.ErrValidation)
	}
	cfg := &oauth2.Config{
		ClientID:     str("client_id"),
		ClientSecret: str("client_secret"),
		RedirectURL:  str("redirect_url"),
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
	if scopes, ok := config["scopes"].([]any); ok {
		for _, sc := range scopes {
			if v, ok := sc.(string); ok {
				cfg.Scopes = append(cfg.Scopes, v)
			}
		}
	}
	return cfg, nil
}

// Get returns one connection scoped to the organization.
func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (core.SourceConnection, error) {
	return s.connections.Get(ctx, orgID, id)
}

// List returns the organization's connections.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]core.SourceConnection, error) {
	return s.connections.List(ctx, orgID)
}

// Delete removes a connection with its credential and cursor, and releases
// its quota unit.
func (s *Service) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	conn, err := s.connections.Get(ctx, orgID, id)
	if err != nil {
		return err
	}

	if err := s.connections.Delete(ctx, orgID, id); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	if conn.CredentialID != nil {
		if err := s.credentials.Delete(ctx, orgID, *conn.CredentialID); err != nil {
			s.log.Warn("deleting credential failed", "credential_id", conn.CredentialID.String(), "error", err)
		}
	}
	if err := s.cursors.Delete(ctx, conn.ID); err != nil {
		s.log.Warn("deleting cursor failed", "connection_id", conn.ID.String(), "error", err)
	}
	if s.quota != nil {
		if err := s.quota.Decrement(ctx, orgID, core.ActionSourceConnections, 1); err != nil {
			s.log.Warn("releasing connection usage failed", "org_id", orgID.String(), "error", err)
		}
	}

	s.log.Info("source connection deleted", "connection_id", id.String(), "source", conn.ShortName)
	return nil
}
