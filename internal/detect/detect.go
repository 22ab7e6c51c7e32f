// Package detect produces candidate entities from document text.
//
// Two detectors feed the overlap resolver: a regex pass over structured
// French identifiers (phone, email, SIRET, addresses, legal references) and
// an external NER service for person and organization names. Neither pass
// touches the other's types; the resolver arbitrates where they collide.
package detect

import (
	"context"

	"github.com/caligo-app/caligo/pkg/types"
)

// Detector extracts candidate entities from a document's text. Candidates
// carry offsets and confidence but no ids; the registry assigns those at
// ingestion.
type Detector interface {
	// Name identifies the detector in logs and job progress updates.
	Name() string

	// Detect scans the text and returns candidates. A detector that finds
	// nothing returns an empty slice, not an error.
	Detect(ctx context.Context, text string) ([]*types.Entity, error)
}
