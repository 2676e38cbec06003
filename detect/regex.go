// Package detect contains the two PII detectors: a pure regex detector for
// well-structured identifiers and an LLM-backed detector for semantic
// entities. Both are total: they log and degrade rather than fail.
package detect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/avaldata/piiscrub/entity"
)

// regexPattern couples a compiled pattern with an optional post-validation
// check that rejects false positives the regex alone cannot exclude (RE2 has
// no lookarounds).
type regexPattern struct {
	typ      entity.Type
	re       *regexp.Regexp
	validate func(text string, start, end int) bool
}

// Patterns are applied in order; a match overlapping an earlier accepted
// match is skipped. More specific identifiers come first so e.g. an SSN is
// not partially claimed as a ZIP code.
var regexPatterns = []regexPattern{
	{
		typ:      entity.TypeEmail,
		re:       regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		validate: validEmailBoundary,
	},
	{
		typ: entity.TypeSSN,
		re:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	{
		typ:      entity.TypeCreditCard,
		re:       regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
		validate: validCreditCard,
	},
	{
		typ:      entity.TypePhone,
		re:       regexp.MustCompile(`(?:\+\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}`),
		validate: validPhone,
	},
	{
		typ:      entity.TypeIPAddress,
		re:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		validate: validIPOctets,
	},
	{
		typ: entity.TypeZipCode,
		re:  regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`),
	},
}

// RegexDetector matches well-structured identifiers. Detect is pure and
// never fails.
type RegexDetector struct{}

// NewRegexDetector returns a detector over the built-in pattern set.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{}
}

// Detect returns all regex-detected entities sorted by start offset, with
// confidence 1.0. Matches overlapping an earlier pattern's match are dropped.
func (d *RegexDetector) Detect(text string) []entity.Entity {
	var found []entity.Entity

	for _, p := range regexPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if p.validate != nil && !p.validate(text, start, end) {
				continue
			}
			overlapped := false
			for _, e := range found {
				if entity.Overlaps(entity.Range{Start: start, End: end}, e.Range()) {
					overlapped = true
					break
				}
			}
			if overlapped {
				continue
			}
			found = append(found, entity.Entity{
				Text:        text[start:end],
				Type:        p.typ,
				Start:       start,
				End:         end,
				Confidence:  1.0,
				Method:      entity.MethodRegex,
				Description: entity.Label(p.typ),
			})
		}
	}

	entity.SortByStart(found)
	return found
}

// validEmailBoundary rejects email matches embedded in a longer token: the
// preceding character must be whitespace, a newline, a tab, an opening paren,
// or the start of the string.
func validEmailBoundary(text string, start, end int) bool {
	if start == 0 {
		return true
	}
	switch text[start-1] {
	case ' ', '\t', '\n', '\r', '(':
		return true
	}
	return false
}

// validPhone requires digit-free surroundings and at least one separator or a
// leading +, so bare digit runs (IDs, counters) are not flagged.
func validPhone(text string, start, end int) bool {
	if start > 0 && isDigit(text[start-1]) {
		return false
	}
	if end < len(text) && isDigit(text[end]) {
		return false
	}
	m := text[start:end]
	if strings.HasPrefix(m, "+") {
		return true
	}
	return strings.ContainsAny(m, "-. ()")
}

// validCreditCard requires exactly 16 digits after stripping separators.
// Luhn is deliberately not checked: the goal is PII suspicion, not card
// validation.
func validCreditCard(text string, start, end int) bool {
	digits := 0
	for _, r := range text[start:end] {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits == 16
}

// validIPOctets requires every dot-separated octet to be in [0, 255].
func validIPOctets(text string, start, end int) bool {
	for _, part := range strings.Split(text[start:end], ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
