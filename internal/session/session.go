// Package session scopes all anonymization state to one document session.
//
// A Session owns its entity registry, group manager and per-source filter
// map, and serializes every mutation behind one lock, so the registry and
// group packages can stay lock-free. Nothing in a session survives its
// removal from the Manager.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caligo-app/caligo/internal/engine"
	"github.com/caligo-app/caligo/internal/groups"
	"github.com/caligo-app/caligo/internal/registry"
	"github.com/caligo-app/caligo/internal/resolver"
	"github.com/caligo-app/caligo/pkg/types"
)

// Session holds the in-memory anonymization state for one document.
type Session struct {
	ID       string
	Filename string
	Text     string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	AccessedAt time.Time

	mu       sync.Mutex
	registry *registry.Registry
	groups   *groups.Manager

	// sourceFilters decides which sources are eligible for selection.
	// Disabling a source never deletes its entities.
	sourceFilters map[types.Source]bool

	// resolution keeps the audit trail of the last candidate ingestion.
	resolution *resolver.Resolution
}

// New creates a session for a document's extracted text.
func New(filename, text string, ttl time.Duration) *Session {
	now := time.Now()
	reg := registry.New()
	return &Session{
		ID:         uuid.NewString(),
		Filename:   filename,
		Text:       text,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		AccessedAt: now,
		registry:   reg,
		groups:     groups.New(reg),
		sourceFilters: map[types.Source]bool{
			types.SourcePattern: true,
			types.SourceModel:   true,
			types.SourceManual:  true,
		},
	}
}

// Expired reports whether the session's TTL has elapsed.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IngestCandidates resolves overlapping candidates from all detectors and
// bulk-inserts the winners, selected by default. The resolver's rejection
// audit is retained for export. Candidates from disabled sources are still
// ingested, just not selected.
//
// Candidates are copied and given ids before resolution, so the rejection
// audit can name the subsuming entity and the caller's records are never
// mutated. The whole batch is validated before insertion; winners whose span
// the registry already holds are skipped, so re-analyzing a document adds
// new findings instead of failing on the old ones.
func (s *Session) IngestCandidates(candidates []*types.Entity) (*resolver.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepared := make([]*types.Entity, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		cp := *c
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		prepared = append(prepared, &cp)
	}

	res := resolver.Resolve(prepared)
	for _, e := range res.Accepted {
		e.Selected = s.sourceFilters[e.Source]
	}
	if _, err := s.registry.AddResolved(res.Accepted); err != nil {
		return nil, err
	}
	s.resolution = res
	return res, nil
}

// AddManualEntity inserts a user-provided entity with confidence 1.0.
func (s *Session) AddManualEntity(text string, entityType types.EntityType, replacement string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &types.Entity{
		Text:        text,
		Type:        entityType,
		Source:      types.SourceManual,
		Confidence:  1.0,
		Replacement: replacement,
		Selected:    s.sourceFilters[types.SourceManual],
		Occurrences: countOccurrences(s.Text, text),
	}
	id, err := s.registry.Add(e)
	if err != nil {
		return nil, err
	}
	return s.registry.Get(id)
}

// GetEntity returns a copy of one entity.
func (s *Session) GetEntity(id string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(id)
}

// UpdateEntity applies a partial edit to one entity.
func (s *Session) UpdateEntity(id string, patch registry.Patch) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.Selected != nil && *patch.Selected {
		if err := s.checkSelectable(id); err != nil {
			return nil, err
		}
	}
	return s.registry.Update(id, patch)
}

// RemoveEntity deletes an entity and detaches it from its group, if any.
func (s *Session) RemoveEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.Remove(id); err != nil {
		return err
	}
	s.groups.DetachEntity(id)
	return nil
}

// RemoveEntities deletes several entities, skipping unknown ids, and
// returns the number removed.
func (s *Session) RemoveEntities(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.registry.RemoveMany(ids)
	for _, id := range ids {
		s.groups.DetachEntity(id)
	}
	return removed
}

// SelectEntity sets the selection state of one entity, honoring the
// per-source filter map for selection.
func (s *Session) SelectEntity(id string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if selected {
		if err := s.checkSelectable(id); err != nil {
			return err
		}
	}
	return s.registry.Select(id, selected)
}

// ListEntities returns entities matching the filter.
func (s *Session) ListEntities(f registry.Filter) []*types.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.List(f)
}

// SetSourceFilter enables or disables a detection source. Disabling a
// source deselects its entities but keeps them in the registry; re-enabling
// makes them eligible for selection again.
func (s *Session) SetSourceFilter(source types.Source, enabled bool) error {
	if !types.IsValidSource(source) {
		return fmt.Errorf("session: unknown source %q: %w", source, types.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sourceFilters[source] = enabled
	if enabled {
		return nil
	}
	for _, e := range s.registry.List(registry.Filter{Source: source, SelectedOnly: true}) {
		if err := s.registry.Select(e.ID, false); err != nil {
			return err
		}
	}
	return nil
}

// SourceFilters returns a copy of the per-source filter map.
func (s *Session) SourceFilters() map[types.Source]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.Source]bool, len(s.sourceFilters))
	for k, v := range s.sourceFilters {
		out[k] = v
	}
	return out
}

// CreateGroup commits a new group over the given entities.
func (s *Session) CreateGroup(name, replacement string, entityIDs []string) (*types.EntityGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.Create(name, replacement, entityIDs)
}

// UpdateGroupReplacement cascades a new replacement to every group member.
func (s *Session) UpdateGroupReplacement(groupID, replacement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.UpdateReplacement(groupID, replacement)
}

// RemoveGroup dissolves a group; idempotent.
func (s *Session) RemoveGroup(groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.Remove(groupID)
}

// AddEntityToGroup moves one entity into an existing group.
func (s *Session) AddEntityToGroup(groupID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.AddEntity(groupID, entityID)
}

// RemoveEntityFromGroup takes one entity out of its group.
func (s *Session) RemoveEntityFromGroup(groupID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.RemoveEntity(groupID, entityID)
}

// ToggleGroupingCandidate flips an entity in the transient grouping
// selection and returns the new state.
func (s *Session) ToggleGroupingCandidate(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.ToggleCandidate(entityID)
}

// GroupingCandidates returns the transient grouping selection.
func (s *Session) GroupingCandidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.Candidates()
}

// GetGroup returns a copy of one group.
func (s *Session) GetGroup(groupID string) (*types.EntityGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.Get(groupID)
}

// ListGroups returns copies of all groups.
func (s *Session) ListGroups() []*types.EntityGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.List()
}

// ApplyResult bundles everything the export coordinator consumes: the
// anonymized text, the ordered substitution audit, the resolver's rejection
// trail and the final entity/group state.
type ApplyResult struct {
	Text       string
	Audit      []types.AuditEntry
	Rejections []types.ResolutionRejection
	Entities   []*types.Entity
	Groups     []*types.EntityGroup
}

// Apply runs the substitution engine over the session's selected entities.
// It reads a consistent snapshot under the session lock but the substitution
// itself is pure; the session state is never modified.
func (s *Session) Apply() *ApplyResult {
	s.mu.Lock()
	selected := s.registry.List(registry.Filter{SelectedOnly: true})
	all := s.registry.List(registry.Filter{})
	groupList := s.groups.List()
	var rejections []types.ResolutionRejection
	if s.resolution != nil {
		rejections = append(rejections, s.resolution.Rejected...)
	}
	text := s.Text
	s.mu.Unlock()

	res := engine.Apply(text, selected)
	return &ApplyResult{
		Text:       res.Text,
		Audit:      res.Audit,
		Rejections: rejections,
		Entities:   all,
		Groups:     groupList,
	}
}

// EntityCount returns the number of entities in the session.
func (s *Session) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Len()
}

// checkSelectable enforces the per-source eligibility filter.
// Caller holds s.mu.
func (s *Session) checkSelectable(id string) error {
	e, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if !s.sourceFilters[e.Source] {
		return fmt.Errorf("session: source %q is disabled for selection: %w",
			e.Source, types.ErrValidation)
	}
	return nil
}

// countOccurrences counts case-insensitive, non-overlapping occurrences of
// sub in text. Manual entities whose text never appears still count as one
// occurrence so the registry minimum holds.
func countOccurrences(text, sub string) int {
	if sub == "" {
		return 0
	}
	lower := strings.ToLower(text)
	needle := strings.ToLower(sub)
	count := strings.Count(lower, needle)
	if count == 0 {
		return 1
	}
	return count
}
