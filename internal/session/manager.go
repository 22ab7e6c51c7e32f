package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caligo-app/caligo/internal/registry"
	"github.com/caligo-app/caligo/pkg/types"
)

const (
	// DefaultTTL is how long a session lives without explicit renewal.
	DefaultTTL = 30 * time.Minute

	// DefaultCleanupInterval is how often the background sweep runs.
	DefaultCleanupInterval = 5 * time.Minute
)

// Manager owns every live session. Sessions are held only in memory; an
// expired or purged session is unrecoverable.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl      time.Duration
	interval time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates a manager with the given TTL and sweep interval.
// Non-positive values fall back to the defaults.
func NewManager(ttl, interval time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background cleanup loop. It returns immediately; the
// loop runs until Stop is called or ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	m.started.Store(true)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.CleanupExpired(); n > 0 {
					log.Printf("session: cleaned up %d expired sessions", n)
				}
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the cleanup loop and waits for it to exit. Safe to call
// whether or not Start ever ran.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

// Create registers a new session for a document and returns it.
func (m *Manager) Create(filename, text string) *Session {
	s := New(filename, text, m.ttl)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Printf("session: created %s for %q (%d bytes)", s.ID, filename, len(text))
	return s
}

// Get returns a live session and renews its TTL. An expired session is
// removed on access and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session: %s: %w", id, types.ErrNotFound)
	}
	if s.Expired() {
		delete(m.sessions, id)
		return nil, fmt.Errorf("session: %s expired: %w", id, types.ErrNotFound)
	}

	now := time.Now()
	s.AccessedAt = now
	s.ExpiresAt = now.Add(m.ttl)
	return s, nil
}

// Delete removes a session immediately. Deleting an unknown id is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		log.Printf("session: deleted %s", id)
	}
	m.mu.Unlock()
}

// CleanupExpired removes every expired session and returns the count.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.Expired() {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Purge removes all sessions unconditionally and returns the count.
func (m *Manager) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	if n > 0 {
		log.Printf("session: purged %d sessions", n)
	}
	return n
}

// Count returns the number of live sessions, sweeping expired ones first.
func (m *Manager) Count() int {
	m.CleanupExpired()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats summarizes one session's registry for status endpoints.
type Stats struct {
	SessionID     string                   `json:"session_id"`
	Filename      string                   `json:"filename"`
	TotalEntities int                      `json:"total_entities"`
	Selected      int                      `json:"selected"`
	Groups        int                      `json:"groups"`
	BySource      map[types.Source]int     `json:"by_source"`
	ByType        map[types.EntityType]int `json:"by_type"`
	CreatedAt     time.Time                `json:"created_at"`
	ExpiresAt     time.Time                `json:"expires_at"`
}

// StatsFor computes per-source and per-type counts for one session.
func (m *Manager) StatsFor(id string) (*Stats, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		SessionID: s.ID,
		Filename:  s.Filename,
		BySource:  make(map[types.Source]int),
		ByType:    make(map[types.EntityType]int),
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	for _, e := range s.ListEntities(registry.Filter{}) {
		stats.TotalEntities++
		if e.Selected {
			stats.Selected++
		}
		stats.BySource[e.Source]++
		stats.ByType[e.Type]++
	}
	stats.Groups = len(s.ListGroups())
	return stats, nil
}
