// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/airweave/airweave-go/pkg/connections"
	"github.com/airweave/airweave-go/pkg/core"
)

// ConnectionRoutes defines the routes for the source connection API.
type ConnectionRoutes struct {
	connections *connections.Service
}

// ConnectionRouter creates a new router for the source connection API.
func ConnectionRouter(svc *connections.Service) http.Handler {
	routes := ConnectionRoutes{connections: svc}

	r := chi.NewRouter()
	r.Get("/", routes.list)
	r.Post("/", routes.create)
	r.Get("/oauth/callback", routes.oauthCallback)
	r.Get("/{id}", routes.get)
	r.Delete("/{id}", routes.delete)
	return r
}

type createConnectionRequest struct {
	Name         string         `json:"name"`
	ShortName    string         `json:"short_name"`
	Collection   string         `json:"collection"`
	AuthVariant  string         `json:"auth_variant"`
	AuthFields   map[string]any `json:"auth_fields,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	AuthProvider string         `json:"auth_provider,omitempty"`
}

type createConnectionResponse struct {
	Connection   core.SourceConnection `json:"connection"`
	AuthorizeURL string                `json:"authorize_url,omitempty"`
}

func (c *ConnectionRoutes) list(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conns, err := c.connections.List(r.Context(), org)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (c *ConnectionRoutes) create(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := c.connections.Create(r.Context(), org, connections.CreateRequest{
		Name:         req.Name,
		ShortName:    req.ShortName,
		Collection:   req.Collection,
		Variant:      core.AuthVariant(req.AuthVariant),
		AuthFields:   req.AuthFields,
		Config:       req.Config,
		AuthProvider: req.AuthProvider,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createConnectionResponse{
		Connection:   res.Connection,
		AuthorizeURL: res.AuthorizeURL,
	})
}

// oauthCallback completes a pending browser flow. The provider redirects
// here with the signed state and the authorization code.
func (c *ConnectionRoutes) oauthCallback(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	conn, err := c.connections.CompleteCallback(r.Context(), org, state, code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (c *ConnectionRoutes) get(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := c.connections.Get(r.Context(), org, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (c *ConnectionRoutes) delete(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.connections.Delete(r.Context(), org, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
