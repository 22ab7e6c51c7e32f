package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caligo-app/caligo/pkg/types"
)

func candidate(id, text string, src types.Source, conf float64, start, end int) *types.Entity {
	return &types.Entity{
		ID:          id,
		Text:        text,
		Type:        types.EntityPerson,
		Source:      src,
		Confidence:  conf,
		HasOffsets:  true,
		StartOffset: start,
		EndOffset:   end,
	}
}

func TestResolve_LongestSpanWins(t *testing.T) {
	// A full address from the pattern extractor embeds a city name the
	// model also detected.
	address := candidate("addr", "12 rue de la Paix, 75001 Paris", types.SourcePattern, 0.85, 10, 41)
	address.Type = types.EntityAddress
	city := candidate("city", "Paris", types.SourceModel, 0.99, 36, 41)

	res := Resolve([]*types.Entity{city, address})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "addr", res.Accepted[0].ID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "city", res.Rejected[0].Entity.ID)
	assert.Equal(t, "subsumed-by: addr", res.Rejected[0].Reason)
}

func TestResolve_ConfidenceBreaksLengthTie(t *testing.T) {
	strong := candidate("strong", "Jean Dupont", types.SourceModel, 0.95, 0, 11)
	weak := candidate("weak", "Jean Dupond", types.SourceModel, 0.60, 0, 11)

	res := Resolve([]*types.Entity{weak, strong})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "strong", res.Accepted[0].ID)
	assert.Equal(t, 1, res.Ambiguities, "an exact-length tie is an ambiguity worth logging")
}

func TestResolve_PatternBeatsModelOnExactTie(t *testing.T) {
	pattern := candidate("p", "0601020304", types.SourcePattern, 0.9, 5, 15)
	pattern.Type = types.EntityPhone
	model := candidate("m", "0601020304", types.SourceModel, 0.9, 5, 15)

	res := Resolve([]*types.Entity{model, pattern})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "p", res.Accepted[0].ID)
}

func TestResolve_GreedyScheduleCount(t *testing.T) {
	// Three spans overlapping the longest one plus one disjoint span: the
	// greedy sweep accepts exactly two.
	cands := []*types.Entity{
		candidate("a", "Saïd OULHADJ", types.SourceModel, 0.9, 0, 12),
		candidate("b", "OULHADJ", types.SourceModel, 0.9, 5, 12),
		candidate("c", "Saïd", types.SourceModel, 0.9, 0, 4),
		candidate("d", "Marie", types.SourceModel, 0.9, 30, 35),
	}

	res := Resolve(cands)

	require.Len(t, res.Accepted, 2)
	assert.Equal(t, "a", res.Accepted[0].ID)
	assert.Equal(t, "d", res.Accepted[1].ID)
	assert.Len(t, res.Rejected, 2)
}

func TestResolve_NonOverlappingAllAccepted(t *testing.T) {
	cands := []*types.Entity{
		candidate("a", "Jean Dupont", types.SourceModel, 0.9, 0, 11),
		candidate("b", "Marie Curie", types.SourceModel, 0.9, 20, 31),
	}

	res := Resolve(cands)
	assert.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Rejected)
}

func TestResolve_DeterministicAcrossInputOrder(t *testing.T) {
	build := func() []*types.Entity {
		return []*types.Entity{
			candidate("a", "Saïd OULHADJ", types.SourceModel, 0.9, 0, 12),
			candidate("b", "OULHADJ", types.SourcePattern, 0.99, 5, 12),
			candidate("c", "Saïd", types.SourceManual, 1.0, 0, 4),
		}
	}

	first := Resolve(build())
	reversed := build()
	reversed[0], reversed[2] = reversed[2], reversed[0]
	second := Resolve(reversed)

	require.Equal(t, len(first.Accepted), len(second.Accepted))
	for i := range first.Accepted {
		assert.Equal(t, first.Accepted[i].ID, second.Accepted[i].ID)
	}
}

func TestResolve_BoundingBoxOverlap(t *testing.T) {
	big := &types.Entity{
		ID: "big", Text: "Cabinet Durand et Associés", Type: types.EntityOrganization,
		Source: types.SourceModel, Confidence: 0.8,
		Box: &types.BoundingBox{Page: 1, X: 0, Y: 0, Width: 100, Height: 20},
	}
	small := &types.Entity{
		ID: "small", Text: "Durand", Type: types.EntityPerson,
		Source: types.SourceModel, Confidence: 0.9,
		Box: &types.BoundingBox{Page: 1, X: 40, Y: 5, Width: 30, Height: 10},
	}

	res := Resolve([]*types.Entity{small, big})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "big", res.Accepted[0].ID)
}
