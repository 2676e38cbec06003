// Package entity defines the PII entity model shared by the detectors, the
// merger, and the redactor. Offsets throughout are byte offsets into the
// UTF-8 source text, half-open [Start, End).
package entity

import (
	"sort"
	"strings"
)

// Type classifies a detected PII span.
type Type string

const (
	TypeEmail      Type = "EMAIL"
	TypePhone      Type = "PHONE"
	TypeSSN        Type = "SSN"
	TypeCreditCard Type = "CREDIT_CARD"
	TypeIPAddress  Type = "IP_ADDRESS"
	TypeZipCode    Type = "ZIP_CODE"
	TypeName       Type = "NAME"
	TypeAddress    Type = "ADDRESS"
	TypeDOB        Type = "DOB"
	TypeMedical    Type = "MEDICAL"
	TypeFinancial  Type = "FINANCIAL"
	TypeEmployer   Type = "EMPLOYER"

	// TypeUnknown is the redaction fallback for unrecognised types.
	TypeUnknown Type = "UNKNOWN"
)

// Method identifies which detector produced an entity.
type Method string

const (
	MethodRegex Method = "regex"
	MethodLLM   Method = "llm"
)

// Entity is a single detected PII span. Text is the literal substring of the
// source at [Start, End), trimmed and non-empty.
type Entity struct {
	Text        string  `json:"text"`
	Type        Type    `json:"type"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Confidence  float64 `json:"confidence"`
	Method      Method  `json:"method"`
	Description string  `json:"description"`
}

// Range is a half-open byte range [Start, End) in the source text.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Range returns the entity's span as a Range.
func (e Entity) Range() Range {
	return Range{Start: e.Start, End: e.End}
}

// Overlaps reports whether two half-open ranges intersect.
func Overlaps(a, b Range) bool {
	return !(a.End <= b.Start || b.End <= a.Start)
}

// SortByStart orders entities by start offset, shorter span first on ties.
func SortByStart(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		return entities[i].End < entities[j].End
	})
}

// typeLabels maps entity types to the human-readable descriptions carried in
// audit details.
var typeLabels = map[Type]string{
	TypeEmail:      "Email address",
	TypePhone:      "Phone number",
	TypeSSN:        "Social Security number",
	TypeCreditCard: "Credit card number",
	TypeIPAddress:  "IP address",
	TypeZipCode:    "ZIP code",
	TypeName:       "Person name",
	TypeAddress:    "Physical address",
	TypeDOB:        "Date of birth",
	TypeMedical:    "Medical information",
	TypeFinancial:  "Financial information",
	TypeEmployer:   "Employer or workplace",
}

// Label returns the human-readable description for an entity type.
func Label(t Type) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "Sensitive information"
}

// ParseType normalises a raw type string (as returned by an LLM) into a
// known Type. The second return is false for unrecognised values.
func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := typeLabels[t]
	return t, ok
}
