// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api contains the REST API for Airweave: collections, source
// connections, syncs and search, plus health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/airweave/airweave-go/pkg/api/v1"
	"github.com/airweave/airweave-go/pkg/collections"
	"github.com/airweave/airweave-go/pkg/connections"
	"github.com/airweave/airweave-go/pkg/logger"
	"github.com/airweave/airweave-go/pkg/search"
	"github.com/airweave/airweave-go/pkg/syncs"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Deps are the services the API fronts.
type Deps struct {
	Collections *collections.Service
	Connections *connections.Service
	Syncs       *syncs.Service
	Search      *search.Service
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Router assembles the full API handler.
func Router(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
	)

	r.Mount("/health", v1.HealthRouter())
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/api/v1/collections", v1.CollectionRouter(deps.Collections, deps.Search))
	r.Mount("/api/v1/source-connections", v1.ConnectionRouter(deps.Connections))
	r.Mount("/api/v1/syncs", v1.SyncRouter(deps.Syncs))
	return r
}

// Serve starts the server on the given address and blocks until ctx is
// cancelled. The caller owns signal handling.
func Serve(ctx context.Context, address string, deps Deps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           Router(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	logger.Infof("starting HTTP server on %s", address)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Panicf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("HTTP server stopped")
	return nil
}
