// Package parser extracts plain text from uploaded documents so the scrub
// pipeline can process transcripts and assessments regardless of the format
// they arrive in.
package parser

import "context"

// Result is the extracted content of one document.
type Result struct {
	Text     string            // Plain text, ready for scrubbing
	Pages    int               // Page or sheet count, 0 when not applicable
	Metadata map[string]string
}

// Parser extracts text from a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Result, error)
	SupportedFormats() []string
}
