package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caligo-app/caligo/pkg/types"
)

func selected(text, replacement string, t types.EntityType) *types.Entity {
	return &types.Entity{
		Text:        text,
		Type:        t,
		Source:      types.SourceModel,
		Confidence:  0.9,
		Selected:    true,
		Replacement: replacement,
	}
}

func TestApply_LongestMatchFirst(t *testing.T) {
	entities := []*types.Entity{
		selected("OULHADJ", "Y", types.EntityPerson),
		selected("Saïd OULHADJ", "X", types.EntityPerson),
	}

	res := Apply("Saïd OULHADJ", entities)

	assert.Equal(t, "X", res.Text, "the full phrase must be consumed as one token")

	require.Len(t, res.Audit, 2)
	assert.Equal(t, "Saïd OULHADJ", res.Audit[0].Original)
	assert.Equal(t, 1, res.Audit[0].MatchCount)
	assert.Equal(t, "OULHADJ", res.Audit[1].Original)
	assert.Equal(t, 0, res.Audit[1].MatchCount, "consumed substring reports zero matches, not an error")
}

func TestApply_CaseInsensitive(t *testing.T) {
	entities := []*types.Entity{selected("Jean Dupont", "M. X", types.EntityPerson)}

	res := Apply("jean dupont a signé. JEAN DUPONT confirme.", entities)

	assert.Equal(t, "M. X a signé. M. X confirme.", res.Text)
	require.Len(t, res.Audit, 1)
	assert.Equal(t, 2, res.Audit[0].MatchCount)
}

func TestApply_ReplacementInsertedVerbatim(t *testing.T) {
	// Regex metacharacters in the original must be escaped, and $ in the
	// replacement must not be expanded.
	entities := []*types.Entity{selected("a.b(c)", "$1 [masked]", types.EntityLegalReference)}

	res := Apply("ref a.b(c) and aXbYcZ", entities)

	assert.Equal(t, "ref $1 [masked] and aXbYcZ", res.Text)
}

func TestApply_EndToEndScenario(t *testing.T) {
	// Grouped person entities share one replacement; the phone entity keeps
	// its own mask.
	entities := []*types.Entity{
		selected("Jean Dupont", "M. X", types.EntityPerson),
		selected("Dupont", "M. X", types.EntityPerson),
		selected("0601020304", "0X XX XX XX XX", types.EntityPhone),
	}

	res := Apply("Contact: Jean Dupont, tel 0601020304. M. Dupont confirme.", entities)

	assert.Equal(t, "Contact: M. X, tel 0X XX XX XX XX. M. X confirme.", res.Text)
}

func TestApply_FoldsBorderingHonorific(t *testing.T) {
	entities := []*types.Entity{selected("Dupont", "M. X", types.EntityPerson)}

	res := Apply("M. Dupont confirme.", entities)
	assert.Equal(t, "M. X confirme.", res.Text,
		"an honorific already in the text is consumed, not doubled")

	res = Apply("Mme Martin et M. Dupont.", entities)
	assert.Equal(t, "Mme Martin et M. X.", res.Text)
}

func TestApply_FoldRequiresWordBoundary(t *testing.T) {
	entities := []*types.Entity{selected("Dupont", "M. X", types.EntityPerson)}

	res := Apply("SAM. Dupont", entities)
	assert.Equal(t, "SAM. M. X", res.Text, "a word ending in the same letters is left intact")
}

func TestApply_Idempotent(t *testing.T) {
	entities := []*types.Entity{
		selected("Jean Dupont", "M. X", types.EntityPerson),
		selected("0601020304", "0X XX XX XX XX", types.EntityPhone),
	}
	text := "Contact: Jean Dupont, tel 0601020304."

	once := Apply(text, entities)
	twice := Apply(once.Text, entities)

	assert.Equal(t, once.Text, twice.Text)
}

func TestApply_DeterministicAcrossInputOrder(t *testing.T) {
	forward := []*types.Entity{
		selected("Jean Dupont", "M. X", types.EntityPerson),
		selected("Dupont", "M. X", types.EntityPerson),
		selected("Marie", "Mme Y", types.EntityPerson),
	}
	backward := []*types.Entity{forward[2], forward[1], forward[0]}
	text := "Jean Dupont, Marie et M. Dupont."

	a := Apply(text, forward)
	b := Apply(text, backward)

	assert.Equal(t, a.Text, b.Text)
	require.Equal(t, len(a.Audit), len(b.Audit))
	for i := range a.Audit {
		assert.Equal(t, a.Audit[i], b.Audit[i])
	}
}

func TestApply_SkipsUnselectedAndEmpty(t *testing.T) {
	unselected := selected("Jean Dupont", "M. X", types.EntityPerson)
	unselected.Selected = false

	res := Apply("Jean Dupont était là.", []*types.Entity{unselected, nil})

	assert.Equal(t, "Jean Dupont était là.", res.Text)
	assert.Empty(t, res.Audit)
}

func TestApply_DuplicateTextsPickDeterministicReplacement(t *testing.T) {
	a := selected("Dupont", "MASK_B", types.EntityPerson)
	b := selected("Dupont", "MASK_A", types.EntityPerson)

	res := Apply("M. Dupont", []*types.Entity{a, b})
	flipped := Apply("M. Dupont", []*types.Entity{b, a})

	assert.Equal(t, "M. MASK_A", res.Text, "lexicographically smallest replacement wins the tie")
	assert.Equal(t, res.Text, flipped.Text)
}

func TestApply_AbsentEntityText(t *testing.T) {
	res := Apply("rien à voir", []*types.Entity{selected("Jean Dupont", "M. X", types.EntityPerson)})

	assert.Equal(t, "rien à voir", res.Text)
	require.Len(t, res.Audit, 1)
	assert.Equal(t, 0, res.Audit[0].MatchCount)
}
