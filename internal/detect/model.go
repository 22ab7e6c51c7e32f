package detect

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/caligo-app/caligo/pkg/types"
)

// ErrModelUnavailable is returned when the NER service circuit is open and
// calls are rejected without touching the network.
var ErrModelUnavailable = errors.New("ner service unavailable")

const (
	defaultModelTimeout = 30 * time.Second
	defaultCacheSize    = 256
)

// ModelConfig configures the NER service client.
type ModelConfig struct {
	// BaseURL is the NER service root, e.g. http://ner:8001.
	BaseURL string

	// Timeout bounds one inference call. Default 30s.
	Timeout time.Duration

	// CacheSize is the number of document digests to cache. Default 256.
	CacheSize int

	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures uint32
}

// ModelDetector calls an external NER service for person and organization
// names. Calls run through a circuit breaker so a dead model service
// degrades detection instead of hanging every analysis job, and results are
// cached by document digest since re-analysis of the same text is common.
type ModelDetector struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   *lru.Cache[string, []*types.Entity]
}

// NewModelDetector builds the NER client.
func NewModelDetector(cfg ModelConfig) (*ModelDetector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("detect: model base URL is required: %w", types.ErrValidation)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultModelTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	cache, err := lru.New[string, []*types.Entity](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "NERCircuitBreaker",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("detect: %s %s -> %s", name, from, to)
		},
	})

	return &ModelDetector{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		cache:   cache,
	}, nil
}

// Name implements Detector.
func (d *ModelDetector) Name() string { return "model" }

// nerSpan is one prediction from the NER service.
type nerSpan struct {
	Label string  `json:"label"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

// Detect implements Detector. Predictions with labels outside person and
// organization are dropped, as are spans that fail contextual validation.
func (d *ModelDetector) Detect(ctx context.Context, text string) ([]*types.Entity, error) {
	digest := textDigest(text)
	if cached, ok := d.cache.Get(digest); ok {
		return copyEntities(cached), nil
	}

	result, err := d.breaker.Execute(func() (interface{}, error) {
		return d.call(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return nil, err
	}
	spans := result.([]nerSpan)

	var out []*types.Entity
	for _, span := range spans {
		entityType, ok := mapModelLabel(span.Label)
		if !ok {
			continue
		}
		if !validateModelSpan(span.Text, entityType) {
			continue
		}
		e := &types.Entity{
			Text:        strings.TrimSpace(span.Text),
			Type:        entityType,
			Source:      types.SourceModel,
			Confidence:  span.Score,
			Occurrences: countMatches(text, span.Text),
		}
		if span.End > span.Start {
			e.HasOffsets = true
			e.StartOffset = span.Start
			e.EndOffset = span.End
		}
		out = append(out, e)
	}

	d.cache.Add(digest, copyEntities(out))
	return out, nil
}

// Healthy probes the NER service without going through the breaker.
func (d *ModelDetector) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detect: ner health returned %d", resp.StatusCode)
	}
	return nil
}

func (d *ModelDetector) call(ctx context.Context, text string) ([]nerSpan, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect: ner call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect: ner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Entities []nerSpan `json:"entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("detect: decode ner response: %w", err)
	}
	return parsed.Entities, nil
}

// mapModelLabel translates NER model labels to entity types. Location and
// miscellaneous labels are ignored; the regex pass owns those formats.
func mapModelLabel(label string) (types.EntityType, bool) {
	switch strings.ToUpper(label) {
	case "PER", "PERSON":
		return types.EntityPerson, true
	case "ORG", "ORGANIZATION":
		return types.EntityOrganization, true
	}
	return "", false
}

var (
	stopWords = map[string]bool{
		"le": true, "la": true, "les": true, "de": true, "du": true,
		"des": true, "et": true, "ou": true, "mais": true, "donc": true,
		"car": true, "un": true, "une": true, "ce": true, "cette": true,
		"dans": true, "sur": true, "avec": true, "pour": true, "par": true,
	}

	personFalsePositives = map[string]bool{
		"article": true, "maître": true, "monsieur": true, "madame": true,
		"docteur": true, "professeur": true, "avocat": true, "notaire": true,
	}

	genericOrgWords = map[string]bool{
		"société": true, "entreprise": true, "cabinet": true, "tribunal": true,
		"cour": true, "ministère": true, "direction": true, "service": true,
	}

	personNameRe = regexp.MustCompile(`^[A-Za-zÀ-ÿ\s'\-]+$`)
)

// validateModelSpan filters the NER model's common false positives: stop
// words, bare honorifics and generic institution nouns.
func validateModelSpan(text string, entityType types.EntityType) bool {
	clean := strings.TrimSpace(text)
	if len(clean) < 2 || len(clean) > 80 {
		return false
	}
	lower := strings.ToLower(clean)
	if stopWords[lower] {
		return false
	}
	if !strings.ContainsFunc(clean, isUpper) {
		return false
	}

	switch entityType {
	case types.EntityPerson:
		if personFalsePositives[lower] {
			return false
		}
		return personNameRe.MatchString(clean)
	case types.EntityOrganization:
		if len(clean) < 3 {
			return false
		}
		return !genericOrgWords[lower]
	}
	return true
}

func isUpper(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= 'À' && r <= 'Þ'
}

func textDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func copyEntities(in []*types.Entity) []*types.Entity {
	out := make([]*types.Entity, len(in))
	for i, e := range in {
		cp := *e
		out[i] = &cp
	}
	return out
}
