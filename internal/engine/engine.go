// Package engine implements the substitution pass that turns a set of
// selected entities into the anonymized document text.
//
// Apply is a pure function of its arguments: it performs no I/O, reads no
// shared state and is safe to run concurrently for independent documents.
package engine

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/caligo-app/caligo/pkg/types"
)

// Result is the outcome of one substitution pass.
type Result struct {
	// Text is the fully substituted document text.
	Text string

	// Audit lists every substitution in the order it was applied, including
	// entries with MatchCount == 0 for originals already consumed by a
	// longer replacement.
	Audit []types.AuditEntry
}

// substitution is one distinct original string with its chosen replacement
// and the metadata of the entity that contributed it.
type substitution struct {
	original    string
	replacement string
	firstOffset int
	spanStart   int
	entityType  types.EntityType
	source      types.Source
}

// Apply replaces every selected entity's text in the document, longest
// original first. Matching is case-insensitive and literal: the original is
// treated as an exact string, not a pattern, and the replacement is inserted
// verbatim with no casing preserved.
//
// The longest-first ordering is load-bearing: replacing "OULHADJ" before
// "Saïd OULHADJ" would corrupt the longer phrase into "Saïd <mask>" instead
// of consuming it whole. Ties are broken by first-occurrence offset, then
// lexicographically, so the result is independent of storage order.
func Apply(text string, selected []*types.Entity) *Result {
	subs := collect(text, selected)

	sort.Slice(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if la, lb := len([]rune(a.original)), len([]rune(b.original)); la != lb {
			return la > lb
		}
		if a.firstOffset != b.firstOffset {
			return a.firstOffset < b.firstOffset
		}
		return a.original < b.original
	})

	result := &Result{Text: text}
	for _, sub := range subs {
		var matchCount int
		result.Text, matchCount = replaceAll(result.Text, sub.original, sub.replacement)
		result.Audit = append(result.Audit, types.AuditEntry{
			Original:    sub.original,
			Replacement: sub.replacement,
			MatchCount:  matchCount,
			Type:        sub.entityType,
			Source:      sub.source,
		})
	}
	return result
}

// replaceAll substitutes every case-insensitive literal occurrence of
// original, folding a bordering honorific already present in the text into
// the match: "M. Dupont" with replacement "M. X" becomes "M. X", not
// "M. M. X".
func replaceAll(text, original, replacement string) (string, int) {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(original))
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start := m[0] - foldedPrefixLen(text[last:m[0]], replacement)
		b.WriteString(text[last:start])
		b.WriteString(replacement)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String(), len(matches)
}

// foldedPrefixLen returns how many bytes immediately before a match are
// consumed because they duplicate the replacement's leading tokens. The
// duplicated run must end at a space in the replacement and start at a word
// boundary in the text, so "SAM. Dupont" never loses part of "SAM.".
func foldedPrefixLen(preceding, replacement string) int {
	lowPre := strings.ToLower(preceding)
	lowRepl := strings.ToLower(replacement)
	for i := len(lowRepl) - 1; i > 0; i-- {
		if lowRepl[i] != ' ' {
			continue
		}
		prefix := lowRepl[:i+1]
		if !strings.HasSuffix(lowPre, prefix) {
			continue
		}
		cut := len(preceding) - len(prefix)
		if cut > 0 {
			r, _ := utf8.DecodeLastRuneInString(preceding[:cut])
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				continue
			}
		}
		return len(prefix)
	}
	return 0
}

// collect builds one substitution per distinct selected entity text. Group
// members share a replacement by construction; when ungrouped duplicates
// disagree, the entity with the earliest span (then the lexicographically
// smallest replacement) wins, keeping the pass deterministic.
func collect(text string, selected []*types.Entity) []substitution {
	lowerText := strings.ToLower(text)

	byOriginal := make(map[string]substitution)
	for _, e := range selected {
		if e == nil || !e.Selected || e.Text == "" || e.Replacement == "" {
			continue
		}

		key := strings.ToLower(e.Text)
		offset := strings.Index(lowerText, key)
		if offset < 0 {
			offset = len(lowerText)
		}

		spanStart := len(lowerText)
		if e.HasOffsets {
			spanStart = e.StartOffset
		}
		candidate := substitution{
			original:    e.Text,
			replacement: e.Replacement,
			firstOffset: offset,
			spanStart:   spanStart,
			entityType:  e.Type,
			source:      e.Source,
		}

		existing, ok := byOriginal[key]
		if !ok {
			byOriginal[key] = candidate
			continue
		}
		if candidate.spanStart < existing.spanStart ||
			(candidate.spanStart == existing.spanStart && candidate.replacement < existing.replacement) {
			byOriginal[key] = candidate
		}
	}

	subs := make([]substitution, 0, len(byOriginal))
	for _, sub := range byOriginal {
		subs = append(subs, sub)
	}
	return subs
}
