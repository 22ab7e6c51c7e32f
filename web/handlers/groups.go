package handlers

import (
	"net/http"
)

// ListGroups handles GET /api/sessions/{id}/groups.
func (h *APIHandlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.ListGroups())
}

// CreateGroup handles POST /api/sessions/{id}/groups.
func (h *APIHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req CreateGroupRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	group, err := sess.CreateGroup(req.Name, req.Replacement, req.EntityIDs)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, group)
}

// GetGroup handles GET /api/sessions/{id}/groups/{groupID}.
func (h *APIHandlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	group, err := sess.GetGroup(r.PathValue("groupID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, group)
}

// UpdateGroup handles PATCH /api/sessions/{id}/groups/{groupID}: cascades
// a new replacement to every member.
func (h *APIHandlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req UpdateGroupRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	groupID := r.PathValue("groupID")
	if err := sess.UpdateGroupReplacement(groupID, req.Replacement); err != nil {
		respondDomainError(w, err)
		return
	}

	group, err := sess.GetGroup(groupID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, group)
}

// DeleteGroup handles DELETE /api/sessions/{id}/groups/{groupID}.
// Deleting an unknown group succeeds, matching the manager's idempotency.
func (h *APIHandlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if err := sess.RemoveGroup(r.PathValue("groupID")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddGroupMember handles POST /api/sessions/{id}/groups/{groupID}/members.
func (h *APIHandlers) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req GroupMemberRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := sess.AddEntityToGroup(r.PathValue("groupID"), req.EntityID); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveGroupMember handles DELETE /api/sessions/{id}/groups/{groupID}/members/{entityID}.
func (h *APIHandlers) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if err := sess.RemoveEntityFromGroup(r.PathValue("groupID"), r.PathValue("entityID")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleCandidate handles POST /api/sessions/{id}/grouping-candidates/{entityID}:
// flips the entity in the transient grouping selection.
func (h *APIHandlers) ToggleCandidate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	selected := sess.ToggleGroupingCandidate(r.PathValue("entityID"))
	respondJSON(w, http.StatusOK, map[string]bool{"selected": selected})
}

// ListCandidates handles GET /api/sessions/{id}/grouping-candidates.
func (h *APIHandlers) ListCandidates(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.GroupingCandidates())
}
