package detect

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/caligo-app/caligo/pkg/types"
)

// Rules maps each structured entity type to its regex patterns. The zero
// value is unusable; start from DefaultRules or LoadRules.
type Rules struct {
	Patterns map[types.EntityType][]string `yaml:"patterns"`
}

// defaultPatterns covers the structured French formats. Person and
// organization names are deliberately absent; those belong to the NER pass.
var defaultPatterns = map[types.EntityType][]string{
	types.EntityPhone: {
		`\b0[1-9](?:[\s.-]?\d{2}){4}\b`,
		`\+33\s?[1-9](?:[\s.-]?\d{2}){4}\b`,
		`\+33\s?\(0\)\s?[1-9](?:[\s.-]?\d{2}){4}\b`,
	},
	types.EntityEmail: {
		`\b[A-Za-z0-9](?:[A-Za-z0-9._%-]*[A-Za-z0-9])?@[A-Za-z0-9](?:[A-Za-z0-9.-]*[A-Za-z0-9])?\.[A-Za-z]{2,}\b`,
	},
	types.EntityRegistryNumber: {
		`\b(?:SIRET\s*:?\s*)?\d{3}[\s.]?\d{3}[\s.]?\d{3}[\s.]?\d{5}\b`,
		`\b(?:SIREN\s*:?\s*)?\d{3}[\s.]?\d{3}[\s.]?\d{3}\b`,
		`RCS\s+[A-Z][a-zA-Z\s-]+\s+\d{3}[\s.]?\d{3}[\s.]?\d{3}(?:[\s.]?\d{5})?`,
		`FR\s*\d{2}\s?\d{9}\b`,
		`(?:APE|NAF)\s*:?\s*\d{4}[A-Z]\b`,
	},
	types.EntityNationalID: {
		`\b[12]\s?\d{2}\s?\d{2}\s?\d{2}\s?\d{3}\s?\d{3}\s?\d{2}\b`,
		`\b[12][\s.-]\d{2}[\s.-]\d{2}[\s.-]\d{2}[\s.-]\d{3}[\s.-]\d{3}[\s.-]\d{2}\b`,
	},
	types.EntityAddress: {
		`\d+(?:\s+(?:bis|ter|quater))?\s+(?:rue|avenue|boulevard|place|impasse|allée|square|passage|chemin|route|cours|quai)\s+[^,\n.]{5,}(?:\s+\d{5}\s+[A-ZÀÂÇÉÈÊËÏÎÔÖÙÛÜ][a-zàâçéèêëïîôöùûü\s-]+)?`,
		`\b\d{5}\s+[A-ZÀÂÇÉÈÊËÏÎÔÖÙÛÜ][A-ZÀÂÇÉÈÊËÏÎÔÖÙÛÜ\s-]{2,}\b`,
	},
	types.EntityLegalReference: {
		`N°\s?RG\s?\d+[/\-\s]*\d*`,
		`(?:Dossier|Affaire)\s+n°\s?\d+[/\-\s]*\d*`,
		`Article\s+\d+(?:\s+du\s+Code\s+[a-zA-ZÀ-ÿ\s]+)?`,
		`(?:Arrêt|Ordonnance|Jugement|Réquisitoire)\s+n°\s?\d+[/\-\s]*\d*`,
	},
}

// DefaultRules returns the compiled-in rule set.
func DefaultRules() *Rules {
	patterns := make(map[types.EntityType][]string, len(defaultPatterns))
	for t, ps := range defaultPatterns {
		patterns[t] = append([]string(nil), ps...)
	}
	return &Rules{Patterns: patterns}
}

// LoadRules reads a YAML rules file. Unknown entity types and patterns that
// fail to compile are rejected so a bad edit never silently drops coverage.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect: read rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("detect: parse rules file: %w", err)
	}
	if len(rules.Patterns) == 0 {
		return nil, fmt.Errorf("detect: rules file %s defines no patterns: %w", path, types.ErrValidation)
	}
	for t, ps := range rules.Patterns {
		if !types.IsValidEntityType(t) {
			return nil, fmt.Errorf("detect: rules file uses unknown entity type %q: %w", t, types.ErrValidation)
		}
		for _, p := range ps {
			if _, err := regexp.Compile(`(?im)` + p); err != nil {
				return nil, fmt.Errorf("detect: pattern %q for %s: %w", p, t, err)
			}
		}
	}
	return &rules, nil
}

// compile turns the rule set into matchers, ordered by type for stable
// candidate output.
func (r *Rules) compile() ([]compiledRule, error) {
	typeOrder := make([]types.EntityType, 0, len(r.Patterns))
	for t := range r.Patterns {
		typeOrder = append(typeOrder, t)
	}
	sort.Slice(typeOrder, func(i, j int) bool { return typeOrder[i] < typeOrder[j] })

	var compiled []compiledRule
	for _, t := range typeOrder {
		for _, p := range r.Patterns[t] {
			re, err := regexp.Compile(`(?im)` + p)
			if err != nil {
				return nil, fmt.Errorf("detect: pattern %q for %s: %w", p, t, err)
			}
			compiled = append(compiled, compiledRule{entityType: t, re: re})
		}
	}
	return compiled, nil
}

type compiledRule struct {
	entityType types.EntityType
	re         *regexp.Regexp
}

// WatchRules hot-reloads the rules file into the detector whenever it
// changes. It blocks until ctx-independent close via the returned stop
// function; callers run it in a goroutine. Reload failures keep the previous
// rule set.
func WatchRules(path string, d *PatternDetector) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("detect: rules watcher: %w", err)
	}
	// Watch the directory: editors replace the file, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("detect: watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				rules, err := LoadRules(path)
				if err != nil {
					log.Printf("detect: rules reload failed, keeping previous set: %v", err)
					continue
				}
				if err := d.SetRules(rules); err != nil {
					log.Printf("detect: rules reload failed, keeping previous set: %v", err)
					continue
				}
				log.Printf("detect: reloaded rules from %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("detect: rules watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
