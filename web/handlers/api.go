// Package handlers provides the HTTP handlers and middleware for the
// Caligo REST API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/caligo-app/caligo/internal/audit"
	"github.com/caligo-app/caligo/internal/export"
	"github.com/caligo-app/caligo/internal/jobs"
	"github.com/caligo-app/caligo/internal/session"
	"github.com/caligo-app/caligo/pkg/types"
)

// maxDocumentBytes bounds the accepted document text size (10 MB).
const maxDocumentBytes = 10 << 20

// APIHandlers contains the HTTP handlers for the REST API.
type APIHandlers struct {
	sessions *session.Manager
	runner   *jobs.Runner
	exporter *export.Coordinator
	store    audit.Store

	// nerHealth probes the model service for the health endpoint; nil when
	// no model detector is configured.
	nerHealth func(context.Context) error
}

// NewAPIHandlers creates the handler set.
func NewAPIHandlers(sessions *session.Manager, runner *jobs.Runner, exporter *export.Coordinator, store audit.Store) *APIHandlers {
	return &APIHandlers{
		sessions: sessions,
		runner:   runner,
		exporter: exporter,
		store:    store,
	}
}

// SetNERHealthCheck registers the model service probe used by GET /api/health.
func (h *APIHandlers) SetNERHealthCheck(probe func(context.Context) error) {
	h.nerHealth = probe
}

// CreateSession handles POST /api/sessions.
func (h *APIHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Filename == "" || req.Text == "" {
		respondError(w, http.StatusBadRequest, "filename and text are required", nil)
		return
	}
	if len(req.Text) > maxDocumentBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "document too large", nil)
		return
	}

	sess := h.sessions.Create(req.Filename, req.Text)
	respondJSON(w, http.StatusCreated, sessionResponse(sess))
}

// GetSession handles GET /api/sessions/{id} with per-source and per-type stats.
func (h *APIHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sessions.StatsFor(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// DeleteSession handles DELETE /api/sessions/{id}.
func (h *APIHandlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// Analyze handles POST /api/sessions/{id}/analyze: queues an async
// detection job for the session's document.
func (h *APIHandlers) Analyze(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.Submit(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, "analysis queue is full", nil)
			return
		}
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/jobs/{id}.
func (h *APIHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// Apply handles POST /api/sessions/{id}/apply: runs the substitution
// engine over the selected entities and returns text, report and audit.
func (h *APIHandlers) Apply(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	result := sess.Apply()
	out, err := h.exporter.Export(r.Context(), sess.ID, sess.Filename, result)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "export failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ApplyResponse{
		Text:       out.Text,
		Report:     out.Report,
		RunID:      out.Run.ID,
		Audit:      out.Run.Entries,
		Rejections: result.Rejections,
	})
}

// ListAuditRuns handles GET /api/sessions/{id}/audit.
func (h *APIHandlers) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.RunsForSession(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "audit lookup failed", err)
		return
	}
	if runs == nil {
		runs = []*audit.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// Health handles GET /api/health.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Sessions: h.sessions.Count()}
	if h.nerHealth != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.nerHealth(ctx); err != nil {
			resp.NER = "unavailable"
		} else {
			resp.NER = "ok"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func sessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Filename:  s.Filename,
		Entities:  s.EntityCount(),
		ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxDocumentBytes+4096))
	return dec.Decode(v)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("handlers: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}

// respondDomainError maps the domain sentinel errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, types.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, types.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation failed", err)
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}
