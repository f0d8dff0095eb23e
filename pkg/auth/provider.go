// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/airweave/airweave-go/pkg/core"
)

// CredentialMode is how an external auth provider hands over access.
type CredentialMode string

const (
	// CredentialDirect means the provider disclosed raw credential fields
	// that can be injected into a connector.
	CredentialDirect CredentialMode = "direct"

	// CredentialProxy means the provider refused to disclose credentials;
	// connector traffic is routed through the provider's proxy instead.
	CredentialProxy CredentialMode = "proxy"
)

// AuthResult is a provider's answer for one source connection.
type AuthResult struct {
	Mode CredentialMode

	// Fields holds the raw credential fields in direct mode.
	Fields map[string]any

	// ProxyURL fronts the source API in proxy mode.
	ProxyURL string

	// ProxyHeaders are attached to every proxied request.
	ProxyHeaders map[string]string
}

// Provider brokers credentials held by a third party (an identity broker
// or secrets service) for connections using the auth_provider variant.
type Provider interface {
	// Name is the stable identifier referenced by
	// SourceConnection.AuthProviderName.
	Name() string

	// Resolve returns credentials or a proxy route for one source kind.
	Resolve(ctx context.Context, sourceShortName string, config map[string]any) (AuthResult, error)
}

// ProviderRegistry resolves provider names to registered implementations.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

// Register adds a provider, replacing any previous one with the same name.
func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *ProviderRegistry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("auth provider %q: %w", name, core.ErrNotFound)
	}
	return p, nil
}

// Names lists the registered provider names.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
