// Package audit persists the substitution trail of every apply run, so a
// reviewer can answer "what was replaced, by what, and when" after the
// session itself is gone.
package audit

import (
	"context"
	"time"

	"github.com/caligo-app/caligo/pkg/types"
)

// Run is one apply pass over one document.
type Run struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Filename  string             `json:"filename"`
	AppliedAt time.Time          `json:"applied_at"`
	Entries   []types.AuditEntry `json:"entries"`
}

// TotalMatches sums the match counts across all entries.
func (r *Run) TotalMatches() int {
	total := 0
	for _, e := range r.Entries {
		total += e.MatchCount
	}
	return total
}

// Store persists apply runs. Implementations live in the sqlite and
// postgres sub-packages.
type Store interface {
	// SaveRun persists one run with all its entries.
	SaveRun(ctx context.Context, run *Run) error

	// RunsForSession returns a session's runs, newest first.
	RunsForSession(ctx context.Context, sessionID string) ([]*Run, error)

	// GetRun returns one run by id.
	GetRun(ctx context.Context, id string) (*Run, error)

	// Close releases the underlying database handle.
	Close() error
}

// NopStore discards every run. Used when no audit database is configured.
type NopStore struct{}

func (NopStore) SaveRun(context.Context, *Run) error { return nil }

func (NopStore) RunsForSession(context.Context, string) ([]*Run, error) { return nil, nil }

func (NopStore) GetRun(ctx context.Context, id string) (*Run, error) {
	return nil, types.ErrNotFound
}

func (NopStore) Close() error { return nil }
