package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/caligo-app/caligo/internal/audit"
	"github.com/caligo-app/caligo/internal/detect"
	"github.com/caligo-app/caligo/internal/export"
	"github.com/caligo-app/caligo/internal/session"
	"github.com/caligo-app/caligo/pkg/types"
)

func main() {
	var (
		rulesPath = flag.String("rules", "", "Path to a YAML detection rules file (defaults to built-in rules)")
		nerURL    = flag.String("ner-url", "", "Base URL of the NER inference service (optional)")
		outDir    = flag.String("out", ".", "Directory for the anonymized text and audit report")
		timeout   = flag.Duration("timeout", 2*time.Minute, "Overall processing timeout")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <document.txt>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	if err := run(path, *rulesPath, *nerURL, *outDir, *timeout); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(path, rulesPath, nerURL, outDir string, timeout time.Duration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	detectors, err := buildDetectors(rulesPath, nerURL)
	if err != nil {
		return err
	}

	sess := session.New(filepath.Base(path), string(data), time.Hour)

	var candidates []*types.Entity
	for _, d := range detectors {
		found, err := d.Detect(ctx, sess.Text)
		if err != nil {
			return fmt.Errorf("detector %s: %w", d.Name(), err)
		}
		log.Printf("Detector %s: %d candidates", d.Name(), len(found))
		candidates = append(candidates, found...)
	}

	resolution, err := sess.IngestCandidates(candidates)
	if err != nil {
		return fmt.Errorf("ingesting candidates: %w", err)
	}
	log.Printf("Resolution: %d entities retained, %d rejected",
		len(resolution.Accepted), len(resolution.Rejected))

	res := sess.Apply()

	coord := export.NewCoordinator(audit.NopStore{})
	exp, err := coord.Export(ctx, sess.ID, sess.Filename, res)
	if err != nil {
		return err
	}

	textPath, reportPath, err := exp.WriteFiles(outDir, filepath.Base(path))
	if err != nil {
		return err
	}
	log.Printf("Anonymized text written to %s", textPath)
	log.Printf("Audit report written to %s", reportPath)
	return nil
}

func buildDetectors(rulesPath, nerURL string) ([]detect.Detector, error) {
	rules := detect.DefaultRules()
	if rulesPath != "" {
		loaded, err := detect.LoadRules(rulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	pattern, err := detect.NewPatternDetector(rules)
	if err != nil {
		return nil, err
	}
	detectors := []detect.Detector{pattern}

	if nerURL != "" {
		model, err := detect.NewModelDetector(detect.ModelConfig{BaseURL: nerURL})
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, model)
	}
	return detectors, nil
}
