package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// TextParser handles plain text (.txt, .md) files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	return &Result{
		Text: string(data),
		Metadata: map[string]string{
			"filename": filepath.Base(path),
		},
	}, nil
}
