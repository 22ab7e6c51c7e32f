// Package resolver merges raw candidate entities from every detection source
// into one non-overlapping, deduplicated working set for a document.
//
// Policy: longest span wins, then higher confidence, then source priority
// (pattern > manual > model). Longest-first means a structured detection
// such as a full postal address beats a shorter embedded detection like a
// city name; pattern-over-model treats deterministic extraction as higher
// precision for the types it targets.
package resolver

import (
	"log"
	"sort"

	"github.com/caligo-app/caligo/pkg/types"
)

// sourcePriority orders detection sources for the final tie-break.
// Higher wins.
var sourcePriority = map[types.Source]int{
	types.SourcePattern: 3,
	types.SourceManual:  2,
	types.SourceModel:   1,
}

// Resolution is the outcome of one resolver pass: the accepted working set
// plus an audit trail of every discarded candidate.
type Resolution struct {
	// Accepted holds the non-overlapping entities, in acceptance order.
	Accepted []*types.Entity

	// Rejected holds discarded candidates with the id of the accepted
	// entity that subsumed each one.
	Rejected []types.ResolutionRejection

	// Ambiguities counts rejections where the tie-break rules beyond span
	// length were exercised. Logged for observability, never surfaced as
	// an error.
	Ambiguities int
}

// Resolve runs a greedy interval-scheduling sweep over the candidates.
// Candidates are visited longest-span first (confidence, then source
// priority, then position and text as deterministic tie-breaks) and accepted
// only when they overlap no previously accepted entity. The input slice is
// not modified.
func Resolve(candidates []*types.Entity) *Resolution {
	ordered := make([]*types.Entity, len(candidates))
	copy(ordered, candidates)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if la, lb := a.SpanLength(), b.SpanLength(); la != lb {
			return la > lb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if pa, pb := sourcePriority[a.Source], sourcePriority[b.Source]; pa != pb {
			return pa > pb
		}
		// Incidental storage order must not leak into the result.
		if a.HasOffsets && b.HasOffsets && a.StartOffset != b.StartOffset {
			return a.StartOffset < b.StartOffset
		}
		return a.Text < b.Text
	})

	res := &Resolution{}
	for _, candidate := range ordered {
		winner := overlapping(res.Accepted, candidate)
		if winner == nil {
			res.Accepted = append(res.Accepted, candidate)
			continue
		}

		res.Rejected = append(res.Rejected, types.ResolutionRejection{
			Entity:     *candidate,
			SubsumedBy: winner.ID,
			Reason:     "subsumed-by: " + winner.ID,
		})

		if winner.SpanLength() == candidate.SpanLength() {
			res.Ambiguities++
			log.Printf("resolver: overlap ambiguity between %q (%s/%s) and %q (%s/%s), kept former",
				winner.Text, winner.Source, winner.Type,
				candidate.Text, candidate.Source, candidate.Type)
		}
	}
	return res
}

// overlapping returns the first accepted entity whose span intersects the
// candidate's, or nil when the candidate is free to be accepted.
func overlapping(accepted []*types.Entity, candidate *types.Entity) *types.Entity {
	for _, a := range accepted {
		if a.OverlapsSpan(candidate) {
			return a
		}
	}
	return nil
}
