// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package v1 implements the versioned REST handlers.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/logger"
)

// orgHeader carries the caller's organization. Authentication in front of
// this API is expected to have validated it.
const orgHeader = "X-Organization-ID"

type errorResponse struct {
	Error string `json:"error"`
}

var (
	errStreamingUnsupported = errors.New("response writer does not support streaming")
	errInvalidConnectionID  = fmt.Errorf("%w: invalid connection_id", core.ErrValidation)
)

// writeError maps domain sentinels onto HTTP statuses. Not-found is uniform
// across missing and foreign-organization resources, so the envelope never
// leaks cross-tenant existence.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, core.ErrAuthFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrPaymentRequired):
		status = http.StatusPaymentRequired
	case errors.Is(err, core.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("request failed: %v", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}

func decodeJSON(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return core.ErrValidation
	}
	return nil
}

// orgID extracts and validates the organization header.
func orgID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(orgHeader)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: missing %s header", core.ErrValidation, orgHeader)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s header", core.ErrValidation, orgHeader)
	}
	return id, nil
}

// pathUUID parses one UUID URL parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, core.ErrValidation
	}
	return id, nil
}

// HealthRouter reports liveness.
func HealthRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
