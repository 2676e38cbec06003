package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts plain text from PDF documents page by page. Pages that
// fail to extract are skipped rather than failing the whole document.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var sb strings.Builder
	extracted := 0

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
		extracted++
	}

	if extracted == 0 {
		return nil, fmt.Errorf("no extractable text in PDF (%d pages)", totalPages)
	}

	return &Result{
		Text:  sb.String(),
		Pages: totalPages,
		Metadata: map[string]string{
			"pages_extracted": fmt.Sprintf("%d", extracted),
		},
	}, nil
}
