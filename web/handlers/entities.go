package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/caligo-app/caligo/internal/registry"
	"github.com/caligo-app/caligo/pkg/types"
)

// ListEntities handles GET /api/sessions/{id}/entities. Filters come from
// query parameters: type, source, min_confidence, selected.
func (h *APIHandlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	q := r.URL.Query()
	filter := registry.Filter{
		Type:         types.EntityType(q.Get("type")),
		Source:       types.Source(q.Get("source")),
		SelectedOnly: q.Get("selected") == "true",
	}
	if v := q.Get("min_confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinConfidence = f
		}
	}

	respondJSON(w, http.StatusOK, sess.ListEntities(filter))
}

// CreateEntity handles POST /api/sessions/{id}/entities: adds a manual
// entity.
func (h *APIHandlers) CreateEntity(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req CreateEntityRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	entity, err := sess.AddManualEntity(req.Text, types.EntityType(req.Type), req.Replacement)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entity)
}

// GetEntity handles GET /api/sessions/{id}/entities/{entityID}.
func (h *APIHandlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	entity, err := sess.GetEntity(r.PathValue("entityID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entity)
}

// UpdateEntity handles PATCH /api/sessions/{id}/entities/{entityID}.
// The edit is all-or-nothing: a rejected field leaves the entity untouched.
func (h *APIHandlers) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req UpdateEntityRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	patch := registry.Patch{
		Text:        req.Text,
		Replacement: req.Replacement,
		Selected:    req.Selected,
		Confidence:  req.Confidence,
	}
	if req.Type != nil {
		t := types.EntityType(*req.Type)
		patch.Type = &t
	}

	entity, err := sess.UpdateEntity(r.PathValue("entityID"), patch)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entity)
}

// DeleteEntity handles DELETE /api/sessions/{id}/entities/{entityID}.
func (h *APIHandlers) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if err := sess.RemoveEntity(r.PathValue("entityID")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkEntities handles POST /api/sessions/{id}/entities/bulk: delete,
// select or deselect several entities in one call. Unknown ids are skipped.
func (h *APIHandlers) BulkEntities(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req BulkEntityRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.EntityIDs) == 0 {
		respondError(w, http.StatusBadRequest, "entity_ids is required", nil)
		return
	}

	affected := 0
	switch req.Operation {
	case "delete":
		affected = sess.RemoveEntities(req.EntityIDs)
	case "select", "deselect":
		selected := req.Operation == "select"
		for _, id := range req.EntityIDs {
			if err := sess.SelectEntity(id, selected); err == nil {
				affected++
			}
		}
	default:
		respondError(w, http.StatusBadRequest, "unsupported operation", nil)
		return
	}

	respondJSON(w, http.StatusOK, BulkEntityResponse{Affected: affected})
}

// SearchEntities handles POST /api/sessions/{id}/entities/search: a
// substring query over entity text plus the standard filters.
func (h *APIHandlers) SearchEntities(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req SearchEntitiesRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	entities := sess.ListEntities(registry.Filter{
		Type:          types.EntityType(req.Type),
		Source:        types.Source(req.Source),
		MinConfidence: req.MinConfidence,
		SelectedOnly:  req.SelectedOnly,
	})

	if req.Query != "" {
		needle := strings.ToLower(req.Query)
		matched := entities[:0]
		for _, e := range entities {
			if strings.Contains(strings.ToLower(e.Text), needle) ||
				strings.Contains(strings.ToLower(e.Replacement), needle) {
				matched = append(matched, e)
			}
		}
		entities = matched
	}

	respondJSON(w, http.StatusOK, entities)
}

// SetSourceFilter handles PUT /api/sessions/{id}/source-filters.
func (h *APIHandlers) SetSourceFilter(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req SourceFilterRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := sess.SetSourceFilter(types.Source(req.Source), req.Enabled); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.SourceFilters())
}

// GetSourceFilters handles GET /api/sessions/{id}/source-filters.
func (h *APIHandlers) GetSourceFilters(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.SourceFilters())
}
