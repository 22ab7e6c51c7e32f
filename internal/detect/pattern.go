package detect

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/caligo-app/caligo/pkg/types"
)

// PatternDetector runs the structured-data regex pass. Matches are validated
// per type before they become candidates, with confidence adjusted by how
// strong the validation is; a SIRET that fails its Luhn checksum survives at
// reduced confidence rather than being dropped, since scanned documents
// routinely corrupt digits.
type PatternDetector struct {
	mu    sync.RWMutex
	rules []compiledRule
}

// NewPatternDetector builds a detector over the given rules, or the
// compiled-in defaults when rules is nil.
func NewPatternDetector(rules *Rules) (*PatternDetector, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	compiled, err := rules.compile()
	if err != nil {
		return nil, err
	}
	return &PatternDetector{rules: compiled}, nil
}

// Name implements Detector.
func (d *PatternDetector) Name() string { return "pattern" }

// SetRules atomically swaps the rule set. Used by the hot-reload watcher.
func (d *PatternDetector) SetRules(rules *Rules) error {
	compiled, err := rules.compile()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.rules = compiled
	d.mu.Unlock()
	return nil
}

// Detect implements Detector. Identical spans matched by several patterns
// collapse to the highest-confidence candidate; overlapping distinct spans
// are left for the resolver.
func (d *PatternDetector) Detect(ctx context.Context, text string) ([]*types.Entity, error) {
	d.mu.RLock()
	rules := d.rules
	d.mu.RUnlock()

	type spanKey struct{ start, end int }
	best := make(map[spanKey]*types.Entity)
	var order []spanKey

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			ok, confidence := validateMatch(match, rule.entityType)
			if !ok {
				continue
			}

			key := spanKey{loc[0], loc[1]}
			if existing, seen := best[key]; seen {
				if confidence > existing.Confidence {
					existing.Type = rule.entityType
					existing.Confidence = confidence
				}
				continue
			}
			best[key] = &types.Entity{
				Text:        match,
				Type:        rule.entityType,
				Source:      types.SourcePattern,
				Confidence:  confidence,
				HasOffsets:  true,
				StartOffset: loc[0],
				EndOffset:   loc[1],
			}
			order = append(order, key)
		}
	}

	out := make([]*types.Entity, 0, len(order))
	for _, key := range order {
		e := best[key]
		e.Occurrences = countMatches(text, e.Text)
		out = append(out, e)
	}
	return out, nil
}

// validateMatch applies per-type checks and returns the adjusted confidence.
func validateMatch(text string, entityType types.EntityType) (bool, float64) {
	switch entityType {
	case types.EntityPhone:
		digits := digitsOf(text)
		if len(digits) < 10 || len(digits) > 15 {
			return false, 0
		}
		if strings.HasPrefix(digits, "0") || strings.HasPrefix(digits, "33") {
			return true, 0.98
		}
		return true, 0.85

	case types.EntityEmail:
		if len(text) < 5 || strings.Count(text, "@") != 1 ||
			strings.HasPrefix(text, "@") || strings.HasSuffix(text, "@") ||
			!strings.Contains(text, ".") {
			return false, 0
		}
		return true, 0.97

	case types.EntityRegistryNumber:
		digits := digitsOf(text)
		switch len(digits) {
		case 14:
			if luhnValid(digits) {
				return true, 0.99
			}
			return true, 0.70
		case 9:
			if luhnValid(digits) {
				return true, 0.98
			}
			return true, 0.70
		case 5, 11:
			// APE/NAF codes and intra-community VAT numbers carry no checksum.
			return true, 0.95
		}
		return false, 0

	case types.EntityNationalID:
		digits := digitsOf(text)
		if len(digits) == 0 || (digits[0] != '1' && digits[0] != '2') {
			return false, 0
		}
		switch len(digits) {
		case 15:
			// 13-digit number plus its two-digit mod-97 control key.
			if nirKeyValid(digits) {
				return true, 0.99
			}
			return true, 0.75
		case 13:
			// Key omitted; format alone is a strong signal.
			return true, 0.90
		}
		return false, 0

	case types.EntityAddress:
		trimmed := strings.TrimSpace(text)
		if len(trimmed) >= 10 && containsDigit(trimmed) && containsLetter(trimmed) {
			return true, 0.85
		}
		return false, 0

	case types.EntityLegalReference:
		lower := strings.ToLower(text)
		for _, kw := range []string{"rg", "dossier", "affaire", "article", "arrêt", "ordonnance", "jugement", "réquisitoire"} {
			if strings.Contains(lower, kw) {
				return true, 0.94
			}
		}
		return false, 0
	}

	return len(strings.TrimSpace(text)) >= 3, 0.80
}

// luhnValid reports whether a digit string passes the Luhn checksum used by
// SIRET and SIREN numbers.
func luhnValid(digits string) bool {
	total := 0
	parity := len(digits) % 2
	for i, r := range digits {
		n := int(r - '0')
		if n < 0 || n > 9 {
			return false
		}
		if i%2 == parity {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		total += n
	}
	return total%10 == 0
}

// nirKeyValid checks a 15-digit social security number: the last two digits
// must equal 97 minus the first 13 digits modulo 97.
func nirKeyValid(digits string) bool {
	number := 0
	for _, r := range digits[:13] {
		number = (number*10 + int(r-'0')) % 97
	}
	key := (int(digits[13]-'0'))*10 + int(digits[14]-'0')
	return key == 97-number
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func containsLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

// countMatches counts case-insensitive, non-overlapping occurrences.
func countMatches(text, match string) int {
	if match == "" {
		return 0
	}
	n := strings.Count(strings.ToLower(text), strings.ToLower(match))
	if n == 0 {
		return 1
	}
	return n
}
