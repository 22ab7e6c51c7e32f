package types

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Entity represents one detected sensitive text span inside a document.
// Offsets are character positions in the document's extracted text; they are
// optional because spatially-located detections (e.g. from a scanned page)
// carry a bounding box instead.
type Entity struct {
	// Core identification fields
	ID   string     `json:"id"`   // Unique identifier
	Text string     `json:"text"` // The exact matched text
	Type EntityType `json:"type"` // Entity type (see EntityType constants)

	// Provenance
	Source     Source  `json:"source"`     // Which detector produced this entity
	Confidence float64 `json:"confidence"` // Detector confidence in [0,1]; 1.0 for manual entries

	// Location. StartOffset/EndOffset cover [start, end) in the document
	// text when HasOffsets is true; Box locates spatial-only detections.
	HasOffsets  bool         `json:"has_offsets"`
	StartOffset int          `json:"start_offset,omitempty"`
	EndOffset   int          `json:"end_offset,omitempty"`
	Box         *BoundingBox `json:"box,omitempty"`

	// Substitution state
	Occurrences int    `json:"occurrences"`        // Count of matches in the full text
	Selected    bool   `json:"selected"`           // Whether this entity will be replaced
	Replacement string `json:"replacement"`        // Replacement text; non-empty whenever Selected
	GroupID     string `json:"group_id,omitempty"` // Owning group, empty when ungrouped

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BoundingBox locates a detection on a rendered page when no text offsets
// are available.
type BoundingBox struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Overlaps reports whether two boxes on the same page intersect.
func (b *BoundingBox) Overlaps(other *BoundingBox) bool {
	if b == nil || other == nil || b.Page != other.Page {
		return false
	}
	return b.X < other.X+other.Width && other.X < b.X+b.Width &&
		b.Y < other.Y+other.Height && other.Y < b.Y+b.Height
}

// SpanLength returns the length of the entity's character span, or the
// length of its text when only a bounding box is available. The resolver
// uses this for its longest-first ordering.
func (e *Entity) SpanLength() int {
	if e.HasOffsets {
		return e.EndOffset - e.StartOffset
	}
	return len([]rune(e.Text))
}

// OverlapsSpan reports whether two entities cover intersecting regions:
// [start, end) ranges when both carry offsets, bounding boxes otherwise.
// An entity with offsets never overlaps a spatial-only entity.
func (e *Entity) OverlapsSpan(other *Entity) bool {
	if e.HasOffsets && other.HasOffsets {
		return e.StartOffset < other.EndOffset && other.StartOffset < e.EndOffset
	}
	if !e.HasOffsets && !other.HasOffsets {
		return e.Box.Overlaps(other.Box)
	}
	return false
}

// Validate checks the entity invariants: non-empty text, a known type and
// source, well-formed offsets and a confidence within [0,1].
func (e *Entity) Validate() error {
	if e.Text == "" {
		return fmt.Errorf("entity text must not be empty: %w", ErrValidation)
	}
	if !IsValidEntityType(e.Type) {
		return fmt.Errorf("unknown entity type %q: %w", e.Type, ErrValidation)
	}
	if !IsValidSource(e.Source) {
		return fmt.Errorf("unknown source %q: %w", e.Source, ErrValidation)
	}
	if e.HasOffsets && e.EndOffset <= e.StartOffset {
		return fmt.Errorf("end offset %d must be greater than start offset %d: %w",
			e.EndOffset, e.StartOffset, ErrValidation)
	}
	if e.HasOffsets && e.StartOffset < 0 {
		return fmt.Errorf("start offset must not be negative: %w", ErrValidation)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %.3f outside [0,1]: %w", e.Confidence, ErrValidation)
	}
	if e.Selected && e.Replacement == "" {
		return fmt.Errorf("selected entity must carry a replacement: %w", ErrValidation)
	}
	return nil
}

// EntityGroup clusters entities that share one enforced replacement value.
// Every member's replacement equals the group's, and each entity belongs to
// at most one group at a time.
type EntityGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Replacement string    `json:"replacement"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// DefaultReplacement derives the deterministic default replacement for an
// entity of the given type and text. The suffix is a stable hash of the
// lowercased text, so distinct people get distinct masks while repeated
// group removal/recreation regenerates identical values.
func DefaultReplacement(t EntityType, text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(text)))
	suffix := h.Sum32() % 1000

	switch t {
	case EntityPerson:
		return fmt.Sprintf("PERSONNE_%03d", suffix)
	case EntityOrganization:
		return fmt.Sprintf("ORGANISATION_%03d", suffix)
	case EntityPhone:
		return "0X XX XX XX XX"
	case EntityEmail:
		return "contact@anonyme.fr"
	case EntityNationalID:
		return "X XX XX XX XXX XXX XX"
	case EntityRegistryNumber:
		return "XXX XXX XXX XXXXX"
	case EntityAddress:
		return "ADRESSE_MASQUEE"
	case EntityLegalReference:
		return fmt.Sprintf("REFERENCE_%03d", suffix)
	default:
		return fmt.Sprintf("ANONYME_%03d", suffix)
	}
}
