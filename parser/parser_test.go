package parser

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"txt", "md", "pdf", "xlsx", "xls"} {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get(format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", format, err)
			}
			found := false
			for _, f := range p.SupportedFormats() {
				if f == format {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list it in SupportedFormats(): %v",
					format, p.SupportedFormats())
			}
		})
	}
}

func TestRegistryCaseInsensitive(t *testing.T) {
	reg := NewRegistry()

	p, err := reg.Get("PDF")
	if err != nil {
		t.Fatalf("Get(PDF) returned error: %v", err)
	}
	if _, ok := p.(*PDFParser); !ok {
		t.Errorf("Get(PDF) = %T, want *PDFParser", p)
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"docx", "csv", "html", ""} {
		t.Run("format_"+format, func(t *testing.T) {
			p, err := reg.Get(format)
			if err == nil {
				t.Errorf("Get(%q) expected error, got parser %T", format, p)
			}
		})
	}
}

func TestRegistryCustomParser(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Get("custom"); err == nil {
		t.Fatal("expected error for unregistered format")
	}

	reg.Register("custom", &TextParser{})
	p, err := reg.Get("custom")
	if err != nil {
		t.Fatalf("Get after Register returned error: %v", err)
	}
	if _, ok := p.(*TextParser); !ok {
		t.Errorf("Get(custom) = %T, want *TextParser", p)
	}
}

func TestRegistryFormats(t *testing.T) {
	got := NewRegistry().Formats()
	sort.Strings(got)

	want := []string{"md", "pdf", "txt", "xls", "xlsx"}
	if len(got) != len(want) {
		t.Fatalf("Formats() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Formats() = %v, want %v", got, want)
		}
	}
}

func TestTextParserParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.txt")
	content := "Coach: How was your week?\n\nClient: Busy, but good."
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if res.Text != content {
		t.Errorf("Text = %q, want %q", res.Text, content)
	}
	if res.Metadata["filename"] != "session.txt" {
		t.Errorf("Metadata = %v", res.Metadata)
	}
}

func TestTextParserMissingFile(t *testing.T) {
	_, err := (&TextParser{}).Parse(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPDFParserInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := (&PDFParser{}).Parse(context.Background(), path); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestXLSXParserInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.xlsx")
	if err := os.WriteFile(path, []byte("not a workbook"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := (&XLSXParser{}).Parse(context.Background(), path); err == nil {
		t.Error("expected error for invalid XLSX")
	}
}
