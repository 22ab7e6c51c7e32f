package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caligo-app/caligo/pkg/types"
)

func detectAll(t *testing.T, text string) []*types.Entity {
	t.Helper()
	d, err := NewPatternDetector(nil)
	require.NoError(t, err)
	out, err := d.Detect(context.Background(), text)
	require.NoError(t, err)
	return out
}

func findByType(entities []*types.Entity, typ types.EntityType) []*types.Entity {
	var out []*types.Entity
	for _, e := range entities {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestPatternDetector_Phone(t *testing.T) {
	out := detectAll(t, "Joignable au 06 01 02 03 04 ou au +33 6 99 88 77 66.")

	phones := findByType(out, types.EntityPhone)
	require.Len(t, phones, 2)
	for _, p := range phones {
		assert.Equal(t, types.SourcePattern, p.Source)
		assert.Equal(t, 0.98, p.Confidence)
		assert.True(t, p.HasOffsets)
	}
}

func TestPatternDetector_Email(t *testing.T) {
	out := detectAll(t, "Écrire à jean.dupont@cabinet-avocats.fr avant le 12.")

	emails := findByType(out, types.EntityEmail)
	require.Len(t, emails, 1)
	assert.Equal(t, "jean.dupont@cabinet-avocats.fr", emails[0].Text)
	assert.Equal(t, 0.97, emails[0].Confidence)
}

func TestPatternDetector_SiretLuhn(t *testing.T) {
	// 73282932000074 passes the Luhn checksum, 732829321 does not.
	out := detectAll(t, "SIRET : 732 829 320 00074, ancien SIREN : 732829321.")

	regs := findByType(out, types.EntityRegistryNumber)
	require.NotEmpty(t, regs)

	byDigits := map[string]float64{}
	for _, r := range regs {
		byDigits[digitsOf(r.Text)] = r.Confidence
	}
	assert.Equal(t, 0.99, byDigits["73282932000074"], "valid SIRET checksum")
	assert.Equal(t, 0.70, byDigits["732829321"], "failed checksum survives at reduced confidence")
}

func TestPatternDetector_NationalID(t *testing.T) {
	// 1850578006048 mod 97 = 67, so the control key is 30.
	out := detectAll(t, "NIR 1 85 05 78 006 048 30 du demandeur.")

	ids := findByType(out, types.EntityNationalID)
	require.Len(t, ids, 1)
	assert.Equal(t, 0.99, ids[0].Confidence)
}

func TestPatternDetector_NationalIDBadKey(t *testing.T) {
	out := detectAll(t, "NIR 1 85 05 78 006 048 22 du demandeur.")

	ids := findByType(out, types.EntityNationalID)
	require.Len(t, ids, 1, "a wrong control key survives, scanned documents corrupt digits")
	assert.Equal(t, 0.75, ids[0].Confidence)
}

func TestPatternDetector_Address(t *testing.T) {
	out := detectAll(t, "Domicilié 15 rue de la Paix, 75002 Paris depuis 2019.")

	addrs := findByType(out, types.EntityAddress)
	require.NotEmpty(t, addrs)
	assert.Equal(t, 0.85, addrs[0].Confidence)
}

func TestPatternDetector_LegalReference(t *testing.T) {
	out := detectAll(t, "Vu le dossier N° RG 20/01234 et l'Article 700 du Code de procédure civile.")

	refs := findByType(out, types.EntityLegalReference)
	require.Len(t, refs, 2)
	for _, r := range refs {
		assert.Equal(t, 0.94, r.Confidence)
	}
}

func TestPatternDetector_CountsOccurrences(t *testing.T) {
	out := detectAll(t, "Tel: 0601020304. Rappel: 0601020304.")

	phones := findByType(out, types.EntityPhone)
	require.NotEmpty(t, phones)
	assert.Equal(t, 2, phones[0].Occurrences)
}

func TestPatternDetector_IdenticalSpansCollapse(t *testing.T) {
	rules := &Rules{Patterns: map[types.EntityType][]string{
		types.EntityPhone: {
			`\b0[1-9](?:[\s.-]?\d{2}){4}\b`,
			`\b06(?:[\s.-]?\d{2}){4}\b`,
		},
	}}
	d, err := NewPatternDetector(rules)
	require.NoError(t, err)

	out, err := d.Detect(context.Background(), "Tel 0601020304.")
	require.NoError(t, err)
	assert.Len(t, out, 1, "two patterns over the same span yield one candidate")
}

func TestPatternDetector_SetRulesSwaps(t *testing.T) {
	d, err := NewPatternDetector(nil)
	require.NoError(t, err)

	err = d.SetRules(&Rules{Patterns: map[types.EntityType][]string{
		types.EntityEmail: {`\b[a-z]+@exemple\.fr\b`},
	}})
	require.NoError(t, err)

	out, err := d.Detect(context.Background(), "contact@exemple.fr et 0601020304")
	require.NoError(t, err)
	require.Len(t, out, 1, "the old phone patterns are gone after the swap")
	assert.Equal(t, types.EntityEmail, out[0].Type)
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, luhnValid("732829320"))
	assert.True(t, luhnValid("73282932000074"))
	assert.False(t, luhnValid("732829321"))
	assert.False(t, luhnValid("73282932000075"))
}

func TestNirKeyValid(t *testing.T) {
	assert.True(t, nirKeyValid("185057800604830"))
	assert.True(t, nirKeyValid("255017800604828"))
	assert.False(t, nirKeyValid("185057800604822"))
}
