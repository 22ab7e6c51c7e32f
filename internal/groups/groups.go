// Package groups clusters registry entities under one shared replacement.
// It enforces single-group membership and cascades replacement edits to
// every member atomically.
//
// Like the registry, the manager is not safe for concurrent mutation; the
// owning session serializes calls.
package groups

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/caligo-app/caligo/internal/registry"
	"github.com/caligo-app/caligo/pkg/types"
)

// Manager owns the group set for one session and the transient
// grouping-candidate selection the UI builds before committing a group.
type Manager struct {
	reg        *registry.Registry
	groups     map[string]*types.EntityGroup
	candidates map[string]bool
}

// New creates a group manager over the given registry.
func New(reg *registry.Registry) *Manager {
	return &Manager{
		reg:        reg,
		groups:     make(map[string]*types.EntityGroup),
		candidates: make(map[string]bool),
	}
}

// Create validates and creates a group, stamping the shared replacement and
// group id onto every member. All members are validated before any is
// touched, so a failed call mutates nothing.
func (m *Manager) Create(name, replacement string, entityIDs []string) (*types.EntityGroup, error) {
	if len(entityIDs) == 0 {
		return nil, fmt.Errorf("groups: a group needs at least one member: %w", types.ErrValidation)
	}
	if replacement == "" {
		return nil, fmt.Errorf("groups: group replacement must not be empty: %w", types.ErrValidation)
	}

	seen := make(map[string]bool, len(entityIDs))
	members := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		e, err := m.reg.Get(id)
		if err != nil {
			return nil, fmt.Errorf("groups: unknown member %s: %w", id, types.ErrValidation)
		}
		if e.GroupID != "" {
			return nil, fmt.Errorf("groups: entity %s already belongs to group %s: %w",
				id, e.GroupID, types.ErrConflict)
		}
		members = append(members, id)
	}

	if name == "" {
		name = replacement
	}
	group := &types.EntityGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Replacement: replacement,
		MemberIDs:   members,
		CreatedAt:   time.Now(),
	}

	for _, id := range members {
		if err := m.reg.SetGroup(id, group.ID, replacement); err != nil {
			// Members were validated above; a failure here means the
			// registry changed under us mid-call, which the session lock
			// rules out.
			return nil, err
		}
	}

	m.groups[group.ID] = group
	for _, id := range members {
		delete(m.candidates, id)
	}
	return m.copyOf(group), nil
}

// UpdateReplacement changes a group's replacement and cascades it to every
// member. The cascade is all-or-nothing under the session lock.
func (m *Manager) UpdateReplacement(groupID, replacement string) error {
	if replacement == "" {
		return fmt.Errorf("groups: group replacement must not be empty: %w", types.ErrValidation)
	}
	group, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("groups: group %s: %w", groupID, types.ErrNotFound)
	}

	for _, id := range group.MemberIDs {
		if err := m.reg.SetGroup(id, groupID, replacement); err != nil {
			return err
		}
	}
	group.Replacement = replacement
	return nil
}

// Remove dissolves a group, clearing membership and regenerating each
// member's deterministic default replacement. Removing an unknown group is
// a no-op, so repeated calls are idempotent.
func (m *Manager) Remove(groupID string) error {
	group, ok := m.groups[groupID]
	if !ok {
		return nil
	}

	for _, id := range group.MemberIDs {
		if err := m.reg.ClearGroup(id); err != nil && !isNotFound(err) {
			return err
		}
	}
	delete(m.groups, groupID)
	return nil
}

// AddEntity moves one entity into an existing group.
func (m *Manager) AddEntity(groupID, entityID string) error {
	group, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("groups: group %s: %w", groupID, types.ErrNotFound)
	}
	e, err := m.reg.Get(entityID)
	if err != nil {
		return err
	}
	if e.GroupID == groupID {
		return nil
	}
	if e.GroupID != "" {
		return fmt.Errorf("groups: entity %s already belongs to group %s: %w",
			entityID, e.GroupID, types.ErrConflict)
	}

	if err := m.reg.SetGroup(entityID, groupID, group.Replacement); err != nil {
		return err
	}
	group.MemberIDs = append(group.MemberIDs, entityID)
	return nil
}

// RemoveEntity takes one entity out of its group. Dropping the last member
// dissolves the group, preserving the non-empty membership invariant.
func (m *Manager) RemoveEntity(groupID, entityID string) error {
	group, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("groups: group %s: %w", groupID, types.ErrNotFound)
	}
	if !remove(&group.MemberIDs, entityID) {
		return fmt.Errorf("groups: entity %s is not a member of group %s: %w",
			entityID, groupID, types.ErrNotFound)
	}

	if err := m.reg.ClearGroup(entityID); err != nil && !isNotFound(err) {
		return err
	}
	if len(group.MemberIDs) == 0 {
		delete(m.groups, groupID)
	}
	return nil
}

// DetachEntity drops an entity from whichever group holds it, if any.
// Called by the session when an entity is deleted from the registry.
func (m *Manager) DetachEntity(entityID string) {
	for id, group := range m.groups {
		if remove(&group.MemberIDs, entityID) {
			if len(group.MemberIDs) == 0 {
				delete(m.groups, id)
			}
			return
		}
	}
}

// Get returns a copy of the group with the given id.
func (m *Manager) Get(groupID string) (*types.EntityGroup, error) {
	group, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("groups: group %s: %w", groupID, types.ErrNotFound)
	}
	return m.copyOf(group), nil
}

// List returns copies of all groups, ordered by creation time then id.
func (m *Manager) List() []*types.EntityGroup {
	out := make([]*types.EntityGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, m.copyOf(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ToggleCandidate flips an entity in or out of the transient grouping
// selection and returns the new state. This is a pure UI-facing set; no
// committed entity changes until Create is called.
func (m *Manager) ToggleCandidate(entityID string) bool {
	if m.candidates[entityID] {
		delete(m.candidates, entityID)
		return false
	}
	m.candidates[entityID] = true
	return true
}

// Candidates returns the current grouping selection, sorted for stable output.
func (m *Manager) Candidates() []string {
	out := make([]string, 0, len(m.candidates))
	for id := range m.candidates {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) copyOf(g *types.EntityGroup) *types.EntityGroup {
	cp := *g
	cp.MemberIDs = append([]string(nil), g.MemberIDs...)
	return &cp
}

func remove(ids *[]string, target string) bool {
	for i, id := range *ids {
		if id == target {
			*ids = append((*ids)[:i], (*ids)[i+1:]...)
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
