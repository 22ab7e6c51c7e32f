package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caligo-app/caligo/pkg/types"
)

func personEntity(text string, start, end int) *types.Entity {
	return &types.Entity{
		Text:        text,
		Type:        types.EntityPerson,
		Source:      types.SourceModel,
		Confidence:  0.9,
		HasOffsets:  true,
		StartOffset: start,
		EndOffset:   end,
	}
}

func TestAdd_AssignsIDAndDefaults(t *testing.T) {
	r := New()
	id, err := r.Add(personEntity("Jean Dupont", 0, 11))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultReplacement(types.EntityPerson, "Jean Dupont"), got.Replacement)
	assert.Equal(t, 1, got.Occurrences)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAdd_ManualEntityConfidenceForcedToOne(t *testing.T) {
	r := New()
	e := personEntity("Cabinet Durand", 5, 19)
	e.Source = types.SourceManual
	e.Confidence = 0.3

	id, err := r.Add(e)
	require.NoError(t, err)
	got, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestAddResolved_AllOrNothing(t *testing.T) {
	r := New()

	bad := personEntity("Durand", 20, 26)
	bad.Type = types.EntityType("banane")
	_, err := r.AddResolved([]*types.Entity{
		personEntity("Jean Dupont", 0, 11),
		bad,
	})
	require.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, 0, r.Len(), "a failed batch inserts nothing")

	ids, err := r.AddResolved([]*types.Entity{
		personEntity("Jean Dupont", 0, 11),
		personEntity("Durand", 20, 26),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestAddResolved_SkipsKnownSpans(t *testing.T) {
	r := New()
	_, err := r.Add(personEntity("Jean Dupont", 0, 11))
	require.NoError(t, err)

	ids, err := r.AddResolved([]*types.Entity{
		personEntity("Jean Dupont", 0, 11),
		personEntity("Durand", 20, 26),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 1, "the already-known span is skipped, not an error")
	assert.Equal(t, 2, r.Len())
}

func TestAdd_RejectsMalformedEntities(t *testing.T) {
	r := New()

	empty := personEntity("", 0, 4)
	_, err := r.Add(empty)
	assert.ErrorIs(t, err, types.ErrValidation)

	inverted := personEntity("Jean", 10, 4)
	_, err = r.Add(inverted)
	assert.ErrorIs(t, err, types.ErrValidation)

	badConfidence := personEntity("Jean", 0, 4)
	badConfidence.Confidence = 1.5
	_, err = r.Add(badConfidence)
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.Equal(t, 0, r.Len(), "rejected entities must not be stored")
}

func TestAdd_RejectsDuplicateSpanSameSource(t *testing.T) {
	r := New()
	_, err := r.Add(personEntity("Jean Dupont", 0, 11))
	require.NoError(t, err)

	_, err = r.Add(personEntity("Jean Dupont", 0, 11))
	assert.ErrorIs(t, err, types.ErrConflict)

	// Same span from a different source is allowed; the resolver decides.
	other := personEntity("Jean Dupont", 0, 11)
	other.Source = types.SourcePattern
	_, err = r.Add(other)
	assert.NoError(t, err)
}

func TestUpdate_AllOrNothing(t *testing.T) {
	r := New()
	id, err := r.Add(personEntity("Jean Dupont", 0, 11))
	require.NoError(t, err)

	before, err := r.Get(id)
	require.NoError(t, err)

	// A patch with an invalid field fails completely.
	empty := ""
	badConfidence := 2.0
	_, err = r.Update(id, Patch{Text: &empty, Confidence: &badConfidence})
	require.ErrorIs(t, err, types.ErrValidation)

	after, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, before.Text, after.Text, "failed patch must leave the record untouched")
	assert.Equal(t, before.Confidence, after.Confidence)
}

func TestUpdate_NotFound(t *testing.T) {
	r := New()
	text := "X"
	_, err := r.Update("missing", Patch{Text: &text})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSelect_FillsDefaultReplacement(t *testing.T) {
	r := New()
	e := personEntity("Jean Dupont", 0, 11)
	id, err := r.Add(e)
	require.NoError(t, err)

	// Clear the replacement, then select: the deterministic default returns.
	empty := ""
	unselected := false
	_, err = r.Update(id, Patch{Replacement: &empty, Selected: &unselected})
	require.NoError(t, err)

	require.NoError(t, r.Select(id, true))
	got, err := r.Get(id)
	require.NoError(t, err)
	assert.True(t, got.Selected)
	assert.Equal(t, types.DefaultReplacement(types.EntityPerson, "Jean Dupont"), got.Replacement)
}

func TestRemoveMany_SkipsUnknownIDs(t *testing.T) {
	r := New()
	id1, _ := r.Add(personEntity("Jean Dupont", 0, 11))
	id2, _ := r.Add(personEntity("Marie Curie", 20, 31))

	removed := r.RemoveMany([]string{id1, "missing", id2})
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, r.Len())
}

func TestList_FiltersAndOrdering(t *testing.T) {
	r := New()
	_, err := r.Add(personEntity("Marie Curie", 20, 31))
	require.NoError(t, err)

	phone := &types.Entity{
		Text: "0601020304", Type: types.EntityPhone, Source: types.SourcePattern,
		Confidence: 0.98, HasOffsets: true, StartOffset: 40, EndOffset: 50,
	}
	_, err = r.Add(phone)
	require.NoError(t, err)

	lowConf := personEntity("Peut-Être", 60, 69)
	lowConf.Confidence = 0.4
	_, err = r.Add(lowConf)
	require.NoError(t, err)

	all := r.List(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, 20, all[0].StartOffset, "list is ordered by start offset")

	patterns := r.List(Filter{Source: types.SourcePattern})
	require.Len(t, patterns, 1)
	assert.Equal(t, types.EntityPhone, patterns[0].Type)

	confident := r.List(Filter{MinConfidence: 0.8})
	assert.Len(t, confident, 2)
}

func TestList_ReturnsCopies(t *testing.T) {
	r := New()
	id, _ := r.Add(personEntity("Jean Dupont", 0, 11))

	r.List(Filter{})[0].Text = "mutated"

	got, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Jean Dupont", got.Text)
}
