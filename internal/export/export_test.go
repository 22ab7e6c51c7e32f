package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caligo-app/caligo/internal/audit"
	"github.com/caligo-app/caligo/internal/session"
	"github.com/caligo-app/caligo/pkg/types"
)

type recordingStore struct {
	audit.NopStore
	saved *audit.Run
	err   error
}

func (s *recordingStore) SaveRun(ctx context.Context, run *audit.Run) error {
	if s.err != nil {
		return s.err
	}
	run.ID = "run-1"
	s.saved = run
	return nil
}

func sampleResult() *session.ApplyResult {
	return &session.ApplyResult{
		Text: "Contact: M. X, tel 0X XX XX XX XX.",
		Audit: []types.AuditEntry{
			{Original: "Jean Dupont", Replacement: "M. X", MatchCount: 1,
				Type: types.EntityPerson, Source: types.SourceModel},
			{Original: "0601020304", Replacement: "0X XX XX XX XX", MatchCount: 1,
				Type: types.EntityPhone, Source: types.SourcePattern},
		},
		Rejections: []types.ResolutionRejection{
			{Entity: types.Entity{Text: "Dupont", Type: types.EntityPerson, Source: types.SourceModel},
				Reason: "subsumed-by: abc"},
		},
		Entities: []*types.Entity{
			{Text: "Jean Dupont", Selected: true},
			{Text: "0601020304", Selected: true},
			{Text: "ignoré", Selected: false},
		},
		Groups: []*types.EntityGroup{{ID: "g1"}},
	}
}

func TestExport_PersistsAndRenders(t *testing.T) {
	store := &recordingStore{}
	c := NewCoordinator(store)

	out, err := c.Export(context.Background(), "sess-1", "contrat.txt", sampleResult())
	require.NoError(t, err)

	require.NotNil(t, store.saved)
	assert.Equal(t, "sess-1", store.saved.SessionID)
	assert.Len(t, store.saved.Entries, 2)

	assert.Contains(t, out.Report, "RAPPORT D'AUDIT D'ANONYMISATION")
	assert.Contains(t, out.Report, "Entités détectées: 3")
	assert.Contains(t, out.Report, "Entités anonymisées: 2")
	assert.Contains(t, out.Report, "Groupes créés: 1")
	assert.Contains(t, out.Report, `"Jean Dupont" -> "M. X"`)
	assert.Contains(t, out.Report, "CANDIDATS ÉCARTÉS")
	assert.Contains(t, out.Report, "subsumed-by: abc")
	assert.NotContains(t, out.Report, "ignoré", "unselected entities never reach the report")
}

func TestExport_StoreFailure(t *testing.T) {
	c := NewCoordinator(&recordingStore{err: errors.New("disk full")})

	_, err := c.Export(context.Background(), "sess-1", "contrat.txt", sampleResult())
	assert.ErrorContains(t, err, "disk full")
}

func TestWriteFiles(t *testing.T) {
	e := &Export{
		Text:   "M. X",
		Report: "RAPPORT",
		Run:    &audit.Run{AppliedAt: time.Now()},
	}

	dir := filepath.Join(t.TempDir(), "out")
	textPath, reportPath, err := e.WriteFiles(dir, "contrat.txt")
	require.NoError(t, err)

	text, err := os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Equal(t, "M. X", string(text))

	report, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Equal(t, "RAPPORT", string(report))

	assert.Equal(t, filepath.Join(dir, "contrat_anonymise.txt"), textPath)
	assert.Equal(t, filepath.Join(dir, "contrat_audit.txt"), reportPath)
}
