// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/syncs"
)

// SyncRoutes defines the routes for the sync API.
type SyncRoutes struct {
	syncs *syncs.Service
}

// SyncRouter creates a new router for the sync API.
func SyncRouter(svc *syncs.Service) http.Handler {
	routes := SyncRoutes{syncs: svc}

	r := chi.NewRouter()
	r.Post("/", routes.create)
	r.Get("/{id}", routes.get)
	r.Delete("/{id}", routes.delete)
	r.Post("/{id}/run", routes.run)
	r.Get("/{id}/jobs", routes.jobs)
	r.Post("/jobs/{jobID}/cancel", routes.cancelJob)
	r.Get("/jobs/{jobID}/stream", routes.streamJob)
	return r
}

type createSyncRequest struct {
	Name         string  `json:"name"`
	ConnectionID string  `json:"connection_id"`
	CronSchedule *string `json:"cron_schedule,omitempty"`
}

func (s *SyncRoutes) create(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	connID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		writeError(w, errInvalidConnectionID)
		return
	}
	syn, err := s.syncs.Create(r.Context(), org, syncs.CreateRequest{
		Name:         req.Name,
		ConnectionID: connID,
		CronSchedule: req.CronSchedule,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, syn)
}

func (s *SyncRoutes) get(w http.ResponseWriter, r *http.Request) {
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
	syn, err := s.syncs.Get(r.Context(), org, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syn)
}

func (s *SyncRoutes) delete(w http.ResponseWriter, r *http.Request) {
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
	if err := s.syncs.Delete(r.Context(), org, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *SyncRoutes) run(w http.ResponseWriter, r *http.Request) {
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
	job, err := s.syncs.Run(r.Context(), org, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *SyncRoutes) jobs(w http.ResponseWriter, r *http.Request) {
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
	jobs, err := s.syncs.Jobs(r.Context(), org, id, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *SyncRoutes) cancelJob(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.syncs.Cancel(r.Context(), org, jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// streamJob relays a job's progress updates over SSE until the client
// disconnects or the job stream ends.
func (s *SyncRoutes) streamJob(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errStreamingUnsupported)
		return
	}

	sub, err := s.syncs.Subscribe(r.Context(), org, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, open := <-sub.Updates():
			if !open {
				return
			}
			writeSSE(w, "update", update)
			flusher.Flush()
			if update.Status.Terminal() {
				return
			}
		}
	}
}
