// Package api exposes the REST surface: script creation, job status polling,
// document retrieval/editing, and the WebSocket endpoint. Job status is
// always authoritative and pollable here; the WebSocket push is a latency
// optimisation only.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/job"
	"github.com/ngqkhai/script-generator/internal/jsoncodec"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/pipeline"
	"github.com/ngqkhai/script-generator/internal/script"
	"github.com/ngqkhai/script-generator/internal/store"
)

type Server struct {
	tracker *job.Tracker
	store   store.DocumentStore
	runner  *pipeline.Runner
	ws      http.Handler
	log     logging.ServiceLogger
}

func NewServer(tracker *job.Tracker, docs store.DocumentStore, runner *pipeline.Runner, ws http.Handler, log logging.ServiceLogger) *Server {
	return &Server{
		tracker: tracker,
		store:   docs,
		runner:  runner,
		ws:      ws,
		log:     log,
	}
}

// Router builds the mux router with all routes mounted.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/ws", s.ws).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/scripts", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/scripts", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/scripts/{id}/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/scripts/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/scripts/{id}", s.handleUpdate).Methods(http.MethodPut)
	api.HandleFunc("/scripts/{id}", s.handleDelete).Methods(http.MethodDelete)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req script.Request
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scriptID := uuid.NewString()
	if err := s.tracker.Create(scriptID); err != nil {
		s.log.Error("job create failed", err, logging.LogFields{"script_id": scriptID})
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.runner.Spawn(pipeline.Request{
		JobID:      scriptID,
		SourceType: "api",
		Script:     req,
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"script_id": scriptID,
		"status":    string(job.StatusQueued),
		"message":   "script generation started",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if record, ok := s.tracker.Get(id); ok {
		writeJSON(w, http.StatusOK, record)
		return
	}

	// Retention may have swept the job; a persisted document means it
	// completed.
	if _, err := s.store.Find(r.Context(), id); err == nil {
		writeJSON(w, http.StatusOK, job.Job{ID: id, Status: job.StatusCompleted, Progress: 1.0})
		return
	}
	writeError(w, http.StatusNotFound, "script not found")
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if record, ok := s.tracker.Get(id); ok && !record.Status.Terminal() {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"script_id": id,
			"status":    string(record.Status),
			"message":   "script generation in progress",
		})
		return
	}

	doc, err := s.store.Find(r.Context(), id)
	if errors.Is(err, errs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "script not found")
		return
	}
	if err != nil {
		s.log.Error("document lookup failed", err, logging.LogFields{"script_id": id})
		writeError(w, http.StatusInternalServerError, "failed to load script")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"script_id": id, "script": doc})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch script.Patch
	if err := jsoncodec.Decode(r.Body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		s.log.Error("document update failed", err, logging.LogFields{"script_id": id})
		writeError(w, http.StatusInternalServerError, "failed to update script")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "script not found")
		return
	}

	doc, err := s.store.Find(r.Context(), id)
	if err != nil {
		s.log.Error("document reload failed", err, logging.LogFields{"script_id": id})
		writeError(w, http.StatusInternalServerError, "failed to load script")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"script_id": id, "script": doc})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	deleted, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.log.Error("document delete failed", err, logging.LogFields{"script_id": id})
		writeError(w, http.StatusInternalServerError, "failed to delete script")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "script not found")
		return
	}
	s.tracker.Delete(id)
	writeJSON(w, http.StatusOK, map[string]string{"script_id": id, "message": "script deleted"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	skip := queryInt(r, "skip", 0)
	search := r.URL.Query().Get("search")

	docs, err := s.store.List(r.Context(), search, skip, limit)
	if err != nil {
		s.log.Error("document list failed", err, nil)
		writeError(w, http.StatusInternalServerError, "failed to list scripts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(docs), "scripts": docs})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
