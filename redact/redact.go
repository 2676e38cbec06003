// Package redact replaces detected PII spans in text. Replacement operates
// on a precomputed, non-overlapping occurrence set applied in descending
// position order, so earlier splices never invalidate later positions.
package redact

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/avaldata/piiscrub/entity"
)

// Strategy selects how matched text is rewritten.
type Strategy string

const (
	StrategyReplace Strategy = "replace" // typed placeholder, e.g. [NAME]
	StrategyHash    Strategy = "hash"    // [TYPE_<hmac8>]
	StrategyMask    Strategy = "mask"    // partial masking, type-specific
	StrategyRemove  Strategy = "remove"  // delete the span
)

// Config controls the redactor.
type Config struct {
	Strategy Strategy
	HashKey  []byte // HMAC key for StrategyHash
}

// Redactor applies a redaction strategy to detected entities.
type Redactor struct {
	cfg Config
}

// New returns a Redactor. An empty strategy defaults to replace.
func New(cfg Config) *Redactor {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyReplace
	}
	return &Redactor{cfg: cfg}
}

// placeholders are the wire-stable replacement tokens for each entity type.
var placeholders = map[entity.Type]string{
	entity.TypeName:       "[NAME]",
	entity.TypeEmail:      "[EMAIL]",
	entity.TypePhone:      "[PHONE]",
	entity.TypeSSN:        "[SSN]",
	entity.TypeCreditCard: "[CREDIT_CARD]",
	entity.TypeAddress:    "[ADDRESS]",
	entity.TypeDOB:        "[DOB]",
	entity.TypeMedical:    "[MEDICAL_INFO]",
	entity.TypeFinancial:  "[FINANCIAL_INFO]",
	entity.TypeEmployer:   "[EMPLOYER]",
	entity.TypeIPAddress:  "[IP]",
	entity.TypeZipCode:    "[ZIP]",
}

const fallbackPlaceholder = "[REDACTED]"

// Placeholder returns the replace-strategy token for an entity type.
func Placeholder(t entity.Type) string {
	if p, ok := placeholders[t]; ok {
		return p
	}
	return fallbackPlaceholder
}

// occurrence is one accepted range to rewrite, with the entity type it
// belongs to and the matched surface text.
type occurrence struct {
	start, end int
	typ        entity.Type
	text       string
}

// Apply rewrites every occurrence of every entity in text according to the
// configured strategy. Besides the detected spans themselves, all repeated
// mentions of each entity's text are redacted, and NAME entities are expanded
// to their surface variants (first name, last name, possessives).
func (r *Redactor) Apply(text string, entities []entity.Entity) string {
	occs := collectOccurrences(text, entities)
	if len(occs) == 0 {
		return text
	}

	// Descending position order keeps unprocessed offsets valid as earlier
	// (rightmost) splices change the string length.
	sort.Slice(occs, func(i, j int) bool { return occs[i].start > occs[j].start })

	out := text
	lastStart := len(text) + 1
	for _, o := range occs {
		if o.end > lastStart {
			// Overlaps an already-applied occurrence; first in sorted input wins.
			continue
		}
		out = out[:o.start] + r.replacement(o) + out[o.end:]
		lastStart = o.start
	}
	return out
}

// collectOccurrences builds the full non-overlapping occurrence set: every
// case-insensitive mention of each entity's trimmed text, then the NAME
// variants. Earlier-accepted occurrences win conflicts.
func collectOccurrences(text string, entities []entity.Entity) []occurrence {
	sorted := make([]entity.Entity, len(entities))
	copy(sorted, entities)
	entity.SortByStart(sorted)

	var accepted []occurrence

	add := func(start, end int, typ entity.Type) bool {
		for _, o := range accepted {
			if start < o.end && o.start < end {
				return false
			}
		}
		accepted = append(accepted, occurrence{start: start, end: end, typ: typ, text: text[start:end]})
		return true
	}

	// Pass 1: exact mentions of each entity's text, everywhere in the text.
	for _, e := range sorted {
		needle := strings.TrimSpace(e.Text)
		if needle == "" {
			continue
		}
		for _, start := range findAllFold(text, needle) {
			end := start + len(needle)
			if e.Type == entity.TypeEmail && !emailBoundaryOK(text, start) {
				continue
			}
			add(start, end, e.Type)
		}
	}

	// Pass 2: NAME surface variants (first/last name, possessives).
	for _, e := range sorted {
		if e.Type != entity.TypeName {
			continue
		}
		for _, v := range nameVariants(strings.TrimSpace(e.Text)) {
			for _, start := range findAllFold(text, v) {
				end := start + len(v)
				if !wordBoundaryOK(text, start, end) {
					continue
				}
				add(start, end, entity.TypeName)
			}
		}
	}

	return accepted
}

// nameVariants expands a full name into the other surface forms a document
// typically uses: the first and last tokens (for multi-part names) and the
// possessive of the full name and of each token.
func nameVariants(full string) []string {
	if full == "" {
		return nil
	}

	seen := map[string]bool{strings.ToLower(full): true}
	var variants []string
	add := func(v string) {
		key := strings.ToLower(v)
		if v != "" && !seen[key] {
			seen[key] = true
			variants = append(variants, v)
		}
	}

	tokens := strings.Fields(full)
	if len(tokens) >= 2 {
		add(tokens[0])
		add(tokens[len(tokens)-1])
	}
	add(full + "'s")
	for _, tok := range tokens {
		add(tok + "'s")
	}
	return variants
}

// wordBoundaryOK accepts a variant occurrence only when it is delimited by
// whitespace, sentence punctuation, or parentheses on both sides.
func wordBoundaryOK(text string, start, end int) bool {
	boundary := func(b byte) bool {
		switch b {
		case ' ', '\t', '\n', '\r', '.', ',', '(', ')', '!', '?', ':', ';':
			return true
		}
		return false
	}
	if start > 0 && !boundary(text[start-1]) {
		return false
	}
	if end < len(text) && !boundary(text[end]) {
		return false
	}
	return true
}

// emailBoundaryOK mirrors the regex detector's preceding-character rule so
// repeated email mentions are matched with the same precision.
func emailBoundaryOK(text string, start int) bool {
	if start == 0 {
		return true
	}
	switch text[start-1] {
	case ' ', '\t', '\n', '\r', '(':
		return true
	}
	return false
}

// findAllFold returns the start offsets of all (possibly overlapping-free)
// case-insensitive occurrences of needle in text.
func findAllFold(text, needle string) []int {
	lower := foldASCII(text)
	needle = foldASCII(needle)

	var starts []int
	pos := 0
	for {
		i := strings.Index(lower[pos:], needle)
		if i < 0 {
			return starts
		}
		starts = append(starts, pos+i)
		pos += i + len(needle)
	}
}

// foldASCII lowercases only ASCII letters, preserving byte offsets.
func foldASCII(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if b == nil {
				b = []byte(s)
			}
			b[i] = c + ('a' - 'A')
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}

// replacement produces the rewritten form of one occurrence.
func (r *Redactor) replacement(o occurrence) string {
	switch r.cfg.Strategy {
	case StrategyHash:
		return fmt.Sprintf("[%s_%s]", o.typ, hmac8(r.cfg.HashKey, o.text))
	case StrategyMask:
		return maskValue(o.typ, o.text)
	case StrategyRemove:
		return ""
	default:
		return Placeholder(o.typ)
	}
}

// hmac8 returns the first 8 hex chars of HMAC-SHA256(key, text).
func hmac8(key []byte, text string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(text))
	return hex.EncodeToString(mac.Sum(nil))[:8]
}

// maskValue partially masks text in a type-appropriate shape: enough survives
// to keep the document readable, but not enough to identify anyone.
func maskValue(typ entity.Type, text string) string {
	switch typ {
	case entity.TypeEmail:
		at := strings.LastIndex(text, "@")
		dot := strings.LastIndex(text, ".")
		if at > 0 && dot > at {
			return text[:1] + "***@" + text[at+1:at+2] + "***" + text[dot:]
		}
	case entity.TypePhone:
		digits := digitsOf(text)
		if len(digits) >= 4 {
			return "***-***-" + digits[len(digits)-4:]
		}
	case entity.TypeName:
		tokens := strings.Fields(text)
		masked := make([]string, len(tokens))
		for i, tok := range tokens {
			_, size := utf8.DecodeRuneInString(tok)
			n := len(tok) - size
			if n > 3 {
				n = 3
			}
			masked[i] = tok[:size] + strings.Repeat("*", n)
		}
		return strings.Join(masked, " ")
	case entity.TypeSSN, entity.TypeCreditCard:
		if len(text) > 4 {
			return strings.Repeat("*", len(text)-4) + text[len(text)-4:]
		}
	}
	n := len(text)
	if n > 8 {
		n = 8
	}
	return strings.Repeat("*", n)
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

// Validate checks that no entity's exact trimmed text survives in the
// redacted output (case-sensitive substring test, no Unicode normalisation)
// and that redaction did not empty a non-empty document. Reported errors
// describe the entity by type and position, never by its raw text.
func (r *Redactor) Validate(original, redacted string, entities []entity.Entity) (bool, []string) {
	var errs []string

	for _, e := range entities {
		needle := strings.TrimSpace(e.Text)
		if needle == "" {
			continue
		}
		if strings.Contains(redacted, needle) {
			errs = append(errs, fmt.Sprintf("%s entity at [%d, %d) still present in output", e.Type, e.Start, e.End))
		}
	}

	if len(original) > 0 && strings.TrimSpace(redacted) == "" && strings.TrimSpace(original) != "" {
		errs = append(errs, "redacted output is empty for non-empty input")
	}

	return len(errs) == 0, errs
}
