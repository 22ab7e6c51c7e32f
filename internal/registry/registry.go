// Package registry provides the canonical entity store for one anonymization
// session. It owns entity creation, edits, deletion and selection state.
//
// The registry is not safe for concurrent mutation; the owning session
// serializes calls (see internal/session).
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/caligo-app/caligo/pkg/types"
)

// Registry maps entity id to entity record for one document session.
type Registry struct {
	entities map[string]*types.Entity
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entities: make(map[string]*types.Entity)}
}

// Add validates and inserts an entity, returning its id. Entities without an
// id get a generated one. An entity at an identical span with the same
// source is rejected as a duplicate.
func (r *Registry) Add(e *types.Entity) (string, error) {
	stored, err := r.prepare(e)
	if err != nil {
		return "", err
	}
	if dup := r.findDuplicate(stored); dup != nil {
		return "", fmt.Errorf("registry: duplicate of %s at identical span and source: %w",
			dup.ID, types.ErrConflict)
	}
	r.insert(stored)
	return stored.ID, nil
}

// AddResolved bulk-inserts the winners of a resolution pass. Every entity is
// validated before any is inserted, so a bad batch leaves the registry
// untouched. Candidates occupying a span and source the registry already
// holds are skipped rather than rejected, which makes re-analysis of the
// same document additive. Returns the ids actually inserted.
func (r *Registry) AddResolved(entities []*types.Entity) ([]string, error) {
	prepared := make([]*types.Entity, 0, len(entities))
	for _, e := range entities {
		p, err := r.prepare(e)
		if err != nil {
			return nil, err
		}
		if r.findDuplicate(p) != nil {
			continue
		}
		prepared = append(prepared, p)
	}

	ids := make([]string, 0, len(prepared))
	for _, p := range prepared {
		r.insert(p)
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// prepare normalizes a copy of the entity and validates it without touching
// the registry.
func (r *Registry) prepare(e *types.Entity) (*types.Entity, error) {
	if e == nil {
		return nil, fmt.Errorf("registry: nil entity: %w", types.ErrValidation)
	}

	stored := *e
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Source == types.SourceManual {
		stored.Confidence = 1.0
	}
	if stored.Replacement == "" {
		stored.Replacement = types.DefaultReplacement(stored.Type, stored.Text)
	}
	if stored.Occurrences < 1 {
		stored.Occurrences = 1
	}

	if err := stored.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if _, exists := r.entities[stored.ID]; exists {
		return nil, fmt.Errorf("registry: entity %s already exists: %w", stored.ID, types.ErrConflict)
	}
	return &stored, nil
}

func (r *Registry) insert(e *types.Entity) {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	r.entities[e.ID] = e
}

// Get returns a copy of the entity with the given id.
func (r *Registry) Get(id string) (*types.Entity, error) {
	e, ok := r.entities[id]
	if !ok {
		return nil, fmt.Errorf("registry: entity %s: %w", id, types.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// Patch describes a partial entity update. Nil fields are left untouched.
type Patch struct {
	Text        *string
	Type        *types.EntityType
	Replacement *string
	Selected    *bool
	Confidence  *float64
}

// Update applies a patch to the entity with the given id. The patch either
// fully applies or fails validation, leaving the prior record untouched.
// Last write wins; there is no version check.
func (r *Registry) Update(id string, patch Patch) (*types.Entity, error) {
	current, ok := r.entities[id]
	if !ok {
		return nil, fmt.Errorf("registry: entity %s: %w", id, types.ErrNotFound)
	}

	next := *current
	if patch.Text != nil {
		next.Text = *patch.Text
	}
	if patch.Type != nil {
		next.Type = *patch.Type
	}
	if patch.Replacement != nil {
		next.Replacement = *patch.Replacement
	}
	if patch.Selected != nil {
		next.Selected = *patch.Selected
	}
	if patch.Confidence != nil {
		next.Confidence = *patch.Confidence
	}

	// Selecting an entity whose replacement was cleared falls back to the
	// deterministic default so the Selected ⇒ non-empty invariant holds.
	if next.Selected && next.Replacement == "" {
		next.Replacement = types.DefaultReplacement(next.Type, next.Text)
	}

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	next.UpdatedAt = time.Now()
	r.entities[id] = &next
	cp := next
	return &cp, nil
}

// Remove deletes the entity with the given id.
func (r *Registry) Remove(id string) error {
	if _, ok := r.entities[id]; !ok {
		return fmt.Errorf("registry: entity %s: %w", id, types.ErrNotFound)
	}
	delete(r.entities, id)
	return nil
}

// RemoveMany deletes the given entities, skipping unknown ids, and returns
// the number actually removed.
func (r *Registry) RemoveMany(ids []string) int {
	removed := 0
	for _, id := range ids {
		if _, ok := r.entities[id]; ok {
			delete(r.entities, id)
			removed++
		}
	}
	return removed
}

// Select sets the selection state of an entity. Selecting an entity without
// a replacement assigns its deterministic default.
func (r *Registry) Select(id string, selected bool) error {
	_, err := r.Update(id, Patch{Selected: &selected})
	return err
}

// SetGroup stamps group membership and the group's shared replacement onto
// an entity. Used by the group manager; not part of the public edit surface.
func (r *Registry) SetGroup(id, groupID, replacement string) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("registry: entity %s: %w", id, types.ErrNotFound)
	}
	next := *e
	next.GroupID = groupID
	next.Replacement = replacement
	next.UpdatedAt = time.Now()
	r.entities[id] = &next
	return nil
}

// ClearGroup removes group membership from an entity and regenerates its
// deterministic default replacement.
func (r *Registry) ClearGroup(id string) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("registry: entity %s: %w", id, types.ErrNotFound)
	}
	next := *e
	next.GroupID = ""
	next.Replacement = types.DefaultReplacement(next.Type, next.Text)
	next.UpdatedAt = time.Now()
	r.entities[id] = &next
	return nil
}

// Filter narrows List results. Zero values mean no filter on that field.
type Filter struct {
	Type          types.EntityType
	Source        types.Source
	MinConfidence float64
	GroupID       string
	SelectedOnly  bool
}

// List returns copies of all entities matching the filter, ordered by start
// offset (spatial-only entities sort after offset entities, by id).
func (r *Registry) List(f Filter) []*types.Entity {
	out := make([]*types.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if f.MinConfidence > 0 && e.Confidence < f.MinConfidence {
			continue
		}
		if f.GroupID != "" && e.GroupID != f.GroupID {
			continue
		}
		if f.SelectedOnly && !e.Selected {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.HasOffsets && b.HasOffsets:
			if a.StartOffset != b.StartOffset {
				return a.StartOffset < b.StartOffset
			}
			return a.ID < b.ID
		case a.HasOffsets:
			return true
		case b.HasOffsets:
			return false
		default:
			return a.ID < b.ID
		}
	})
	return out
}

// Len returns the number of entities in the registry.
func (r *Registry) Len() int {
	return len(r.entities)
}

// findDuplicate returns an existing entity occupying the identical span with
// the same source, if any.
func (r *Registry) findDuplicate(e *types.Entity) *types.Entity {
	if !e.HasOffsets {
		return nil
	}
	for _, existing := range r.entities {
		if existing.HasOffsets &&
			existing.Source == e.Source &&
			existing.StartOffset == e.StartOffset &&
			existing.EndOffset == e.EndOffset {
			return existing
		}
	}
	return nil
}
