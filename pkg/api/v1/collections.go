// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/airweave/airweave-go/pkg/collections"
	"github.com/airweave/airweave-go/pkg/search"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

// CollectionRoutes defines the routes for the collection API.
type CollectionRoutes struct {
	collections *collections.Service
	search      *search.Service
}

// CollectionRouter creates a new router for the collection API.
func CollectionRouter(svc *collections.Service, searchSvc *search.Service) http.Handler {
	routes := CollectionRoutes{collections: svc, search: searchSvc}

	r := chi.NewRouter()
	r.Get("/", routes.list)
	r.Post("/", routes.create)
	r.Get("/{readableID}", routes.get)
	r.Delete("/{readableID}", routes.delete)
	r.Post("/{readableID}/search", routes.doSearch)
	r.Post("/{readableID}/search/stream", routes.streamSearch)
	return r
}

type createCollectionRequest struct {
	Name string `json:"name"`
}

func (c *CollectionRoutes) list(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	colls, err := c.collections.List(r.Context(), org)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, colls)
}

func (c *CollectionRoutes) create(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	coll, err := c.collections.Create(r.Context(), org, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, coll)
}

func (c *CollectionRoutes) get(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coll, err := c.collections.Get(r.Context(), org, chi.URLParam(r, "readableID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coll)
}

func (c *CollectionRoutes) delete(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.collections.Delete(r.Context(), org, chi.URLParam(r, "readableID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query          string              `json:"query"`
	Limit          int                 `json:"limit,omitempty"`
	Offset         int                 `json:"offset,omitempty"`
	ScoreThreshold *float64            `json:"score_threshold,omitempty"`
	Filter         *vectorstore.Filter `json:"filter,omitempty"`
	Expansion      string              `json:"expansion,omitempty"`
	Interpret      bool                `json:"interpret,omitempty"`
	Rerank         bool                `json:"rerank,omitempty"`
	Decay          *vectorstore.Decay  `json:"decay,omitempty"`
	GenerateAnswer bool                `json:"generate_answer,omitempty"`
}

func (s searchRequest) options() search.Options {
	return search.Options{
		Limit:          s.Limit,
		Offset:         s.Offset,
		ScoreThreshold: s.ScoreThreshold,
		Filter:         s.Filter,
		Expansion:      search.ExpansionStrategy(s.Expansion),
		Interpret:      s.Interpret,
		Rerank:         s.Rerank,
		Decay:          s.Decay,
		GenerateAnswer: s.GenerateAnswer,
	}
}

func (c *CollectionRoutes) doSearch(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := c.search.Search(r.Context(), org, chi.URLParam(r, "readableID"), req.Query, req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamSearch runs the same pipeline but delivers completion events over
// SSE as they are generated, followed by a final "response" event with the
// full result set.
func (c *CollectionRoutes) streamSearch(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errStreamingUnsupported)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	opts := req.options()
	opts.Emit = func(ev search.Event) {
		writeSSE(w, string(ev.Type), ev)
		flusher.Flush()
	}

	resp, err := c.search.Search(r.Context(), org, chi.URLParam(r, "readableID"), req.Query, opts)
	if err != nil {
		writeSSE(w, "error", errorResponse{Error: err.Error()})
		flusher.Flush()
		return
	}
	writeSSE(w, "response", resp)
	flusher.Flush()
}

// writeSSE emits one server-sent event with a JSON payload.
func writeSSE(w http.ResponseWriter, event string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + string(payload) + "\n\n"))
}
