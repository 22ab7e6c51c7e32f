package handlers

import (
	"github.com/caligo-app/caligo/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CreateSessionRequest opens a session over a document's extracted text.
type CreateSessionRequest struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// SessionResponse is the public view of a session.
type SessionResponse struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Entities  int    `json:"entities"`
	ExpiresAt string `json:"expires_at"`
}

// CreateEntityRequest adds a manual entity to a session.
type CreateEntityRequest struct {
	Text        string `json:"text"`
	Type        string `json:"type"`
	Replacement string `json:"replacement,omitempty"`
}

// UpdateEntityRequest is a partial entity edit; absent fields keep their
// current value.
type UpdateEntityRequest struct {
	Text        *string  `json:"text,omitempty"`
	Type        *string  `json:"type,omitempty"`
	Replacement *string  `json:"replacement,omitempty"`
	Selected    *bool    `json:"selected,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// BulkEntityRequest applies one operation to several entities.
type BulkEntityRequest struct {
	Operation string   `json:"operation"` // delete, select, deselect
	EntityIDs []string `json:"entity_ids"`
}

// BulkEntityResponse reports how many entities the operation touched.
type BulkEntityResponse struct {
	Affected int `json:"affected"`
}

// SearchEntitiesRequest filters a session's entities.
type SearchEntitiesRequest struct {
	Query         string  `json:"query,omitempty"`
	Type          string  `json:"type,omitempty"`
	Source        string  `json:"source,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	SelectedOnly  bool    `json:"selected_only,omitempty"`
}

// SourceFilterRequest toggles a detection source's selection eligibility.
type SourceFilterRequest struct {
	Source  string `json:"source"`
	Enabled bool   `json:"enabled"`
}

// CreateGroupRequest groups entities under one shared replacement.
type CreateGroupRequest struct {
	Name        string   `json:"name,omitempty"`
	Replacement string   `json:"replacement"`
	EntityIDs   []string `json:"entity_ids"`
}

// UpdateGroupRequest changes a group's replacement.
type UpdateGroupRequest struct {
	Replacement string `json:"replacement"`
}

// GroupMemberRequest adds or removes one entity.
type GroupMemberRequest struct {
	EntityID string `json:"entity_id"`
}

// ApplyResponse is the outcome of an apply/export call.
type ApplyResponse struct {
	Text       string                     `json:"text"`
	Report     string                     `json:"report"`
	RunID      string                     `json:"run_id"`
	Audit      []types.AuditEntry         `json:"audit"`
	Rejections []types.ResolutionRejection `json:"rejections,omitempty"`
}

// HealthResponse reports component health for GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	NER      string `json:"ner,omitempty"`
}
