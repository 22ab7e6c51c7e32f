package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntity() *Entity {
	return &Entity{
		ID:          "ent-1",
		Text:        "Jean Dupont",
		Type:        EntityPerson,
		Source:      SourceModel,
		Confidence:  0.92,
		HasOffsets:  true,
		StartOffset: 9,
		EndOffset:   20,
		Occurrences: 1,
	}
}

func TestEntityValidate(t *testing.T) {
	require.NoError(t, validEntity().Validate())
}

func TestEntityValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Entity)
	}{
		{"empty text", func(e *Entity) { e.Text = "" }},
		{"unknown type", func(e *Entity) { e.Type = "passport" }},
		{"unknown source", func(e *Entity) { e.Source = "ocr" }},
		{"inverted offsets", func(e *Entity) { e.StartOffset, e.EndOffset = 20, 9 }},
		{"zero-width span", func(e *Entity) { e.EndOffset = e.StartOffset }},
		{"negative start", func(e *Entity) { e.StartOffset, e.EndOffset = -1, 3 }},
		{"confidence above one", func(e *Entity) { e.Confidence = 1.2 }},
		{"negative confidence", func(e *Entity) { e.Confidence = -0.1 }},
		{"selected without replacement", func(e *Entity) { e.Selected, e.Replacement = true, "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntity()
			tt.mutate(e)
			err := e.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestOverlapsSpan(t *testing.T) {
	a := &Entity{HasOffsets: true, StartOffset: 0, EndOffset: 10}
	b := &Entity{HasOffsets: true, StartOffset: 9, EndOffset: 15}
	c := &Entity{HasOffsets: true, StartOffset: 10, EndOffset: 12}

	assert.True(t, a.OverlapsSpan(b))
	assert.True(t, b.OverlapsSpan(a))
	// [start, end) ranges: touching spans do not overlap.
	assert.False(t, a.OverlapsSpan(c))
}

func TestOverlapsSpan_BoundingBoxes(t *testing.T) {
	a := &Entity{Box: &BoundingBox{Page: 1, X: 0, Y: 0, Width: 10, Height: 10}}
	b := &Entity{Box: &BoundingBox{Page: 1, X: 5, Y: 5, Width: 10, Height: 10}}
	c := &Entity{Box: &BoundingBox{Page: 2, X: 5, Y: 5, Width: 10, Height: 10}}
	withOffsets := &Entity{HasOffsets: true, StartOffset: 0, EndOffset: 100}

	assert.True(t, a.OverlapsSpan(b))
	assert.False(t, a.OverlapsSpan(c), "boxes on different pages never overlap")
	assert.False(t, a.OverlapsSpan(withOffsets), "spatial and offset entities live in different domains")
}

func TestDefaultReplacement_Deterministic(t *testing.T) {
	first := DefaultReplacement(EntityPerson, "Saïd OULHADJ")
	second := DefaultReplacement(EntityPerson, "Saïd OULHADJ")
	assert.Equal(t, first, second)

	// Case variants of the same text map to the same mask.
	assert.Equal(t, first, DefaultReplacement(EntityPerson, "saïd oulhadj"))
}

func TestDefaultReplacement_FixedMasks(t *testing.T) {
	assert.Equal(t, "0X XX XX XX XX", DefaultReplacement(EntityPhone, "0601020304"))
	assert.Equal(t, "contact@anonyme.fr", DefaultReplacement(EntityEmail, "jean@cabinet.fr"))
	assert.Equal(t, "X XX XX XX XXX XXX XX", DefaultReplacement(EntityNationalID, "1 85 12 75 108 111 42"))
	assert.Equal(t, "XXX XXX XXX XXXXX", DefaultReplacement(EntityRegistryNumber, "552 100 554 00013"))
}

func TestSpanLength(t *testing.T) {
	e := validEntity()
	assert.Equal(t, 11, e.SpanLength())

	spatial := &Entity{Text: "Saïd", Box: &BoundingBox{Page: 1, Width: 5, Height: 2}}
	assert.Equal(t, 4, spatial.SpanLength(), "rune length, not byte length")
}
