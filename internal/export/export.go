// Package export turns an apply run into its deliverables: the anonymized
// text, a human-readable audit report and a persisted audit trail.
//
// The coordinator consumes only the apply result; it never reaches back
// into a session, so nothing outside the selected substitutions can leak
// into an export.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caligo-app/caligo/internal/audit"
	"github.com/caligo-app/caligo/internal/session"
)

// Export is the outcome of one export: the anonymized text, the rendered
// report and the persisted audit run.
type Export struct {
	Text   string
	Report string
	Run    *audit.Run
}

// Coordinator builds exports and records their audit trail.
type Coordinator struct {
	store audit.Store
}

// NewCoordinator creates a coordinator persisting runs to the given store.
// Pass audit.NopStore{} to skip persistence.
func NewCoordinator(store audit.Store) *Coordinator {
	return &Coordinator{store: store}
}

// Export renders the report for one apply result and persists the run.
func (c *Coordinator) Export(ctx context.Context, sessionID, filename string, res *session.ApplyResult) (*Export, error) {
	run := &audit.Run{
		SessionID: sessionID,
		Filename:  filename,
		AppliedAt: time.Now(),
		Entries:   res.Audit,
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("export: persist audit run: %w", err)
	}

	return &Export{
		Text:   res.Text,
		Report: renderReport(filename, run, res),
		Run:    run,
	}, nil
}

// WriteFiles writes the anonymized text and the audit report next to each
// other under dir, returning both paths.
func (e *Export) WriteFiles(dir, baseName string) (textPath, reportPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("export: create output dir: %w", err)
	}

	stem := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	textPath = filepath.Join(dir, stem+"_anonymise.txt")
	reportPath = filepath.Join(dir, stem+"_audit.txt")

	if err := os.WriteFile(textPath, []byte(e.Text), 0o644); err != nil {
		return "", "", fmt.Errorf("export: write text: %w", err)
	}
	if err := os.WriteFile(reportPath, []byte(e.Report), 0o644); err != nil {
		return "", "", fmt.Errorf("export: write report: %w", err)
	}
	return textPath, reportPath, nil
}

// renderReport formats the audit trail the way reviewers read it: totals
// first, then each substitution, then what the resolver discarded.
func renderReport(filename string, run *audit.Run, res *session.ApplyResult) string {
	var b strings.Builder

	selected := 0
	for _, e := range res.Entities {
		if e.Selected {
			selected++
		}
	}

	fmt.Fprintf(&b, "RAPPORT D'AUDIT D'ANONYMISATION\n")
	fmt.Fprintf(&b, "=====================================\n\n")
	fmt.Fprintf(&b, "Document original: %s\n", filename)
	fmt.Fprintf(&b, "Date d'export: %s\n\n", run.AppliedAt.Format("02/01/2006 à 15:04"))

	fmt.Fprintf(&b, "STATISTIQUES\n")
	fmt.Fprintf(&b, "============\n")
	fmt.Fprintf(&b, "- Entités détectées: %d\n", len(res.Entities))
	fmt.Fprintf(&b, "- Entités anonymisées: %d\n", selected)
	fmt.Fprintf(&b, "- Substitutions effectuées: %d\n", run.TotalMatches())
	fmt.Fprintf(&b, "- Groupes créés: %d\n\n", len(res.Groups))

	fmt.Fprintf(&b, "ENTITÉS ANONYMISÉES\n")
	fmt.Fprintf(&b, "==================\n")
	if len(run.Entries) == 0 {
		fmt.Fprintf(&b, "(aucune)\n")
	}
	for _, e := range run.Entries {
		fmt.Fprintf(&b, "- %q -> %q (%d occurrence(s), type: %s, source: %s)\n",
			e.Original, e.Replacement, e.MatchCount, e.Type, e.Source)
	}

	if len(res.Rejections) > 0 {
		fmt.Fprintf(&b, "\nCANDIDATS ÉCARTÉS PAR LE RÉSOLVEUR\n")
		fmt.Fprintf(&b, "==================================\n")
		for _, r := range res.Rejections {
			fmt.Fprintf(&b, "- %q (%s, %s): %s\n", r.Entity.Text, r.Entity.Type, r.Entity.Source, r.Reason)
		}
	}

	fmt.Fprintf(&b, "\nCe rapport certifie que le document a été traité selon les paramètres spécifiés.\n")
	return b.String()
}
