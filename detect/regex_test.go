package detect

import (
	"testing"

	"github.com/avaldata/piiscrub/entity"
)

func findType(entities []entity.Entity, typ entity.Type) *entity.Entity {
	for i := range entities {
		if entities[i].Type == typ {
			return &entities[i]
		}
	}
	return nil
}

func TestDetectEmail(t *testing.T) {
	d := NewRegexDetector()

	tests := []struct {
		name string
		text string
		want string // empty means no email expected
	}{
		{"plain", "contact john.doe@example.com today", "john.doe@example.com"},
		{"start of string", "a@b.co wrote this", "a@b.co"},
		{"after paren", "reach us (support@corp.io) anytime", "support@corp.io"},
		{"plus tag", "send to dev+test@example.org now", "dev+test@example.org"},
		{"embedded in token", "see foo=bar@example.com for details", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findType(d.Detect(tt.text), entity.TypeEmail)
			if tt.want == "" {
				if got != nil {
					t.Errorf("unexpected email %q in %q", got.Text, tt.text)
				}
				return
			}
			if got == nil {
				t.Fatalf("no email found in %q", tt.text)
			}
			if got.Text != tt.want {
				t.Errorf("email = %q, want %q", got.Text, tt.want)
			}
			if got.Confidence != 1.0 || got.Method != entity.MethodRegex {
				t.Errorf("email metadata = %+v", got)
			}
		})
	}
}

func TestDetectPhone(t *testing.T) {
	d := NewRegexDetector()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"dashes", "call 555-123-4567 now", "555-123-4567"},
		{"dots", "call 555.123.4567 now", "555.123.4567"},
		{"parens", "call (555) 123-4567 now", "(555) 123-4567"},
		{"international", "call +1 555 123 4567 now", "+1 555 123 4567"},
		{"bare digits rejected", "order id 5551234567 shipped", ""},
		{"digit neighbours rejected", "ref 15551234567890", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findType(d.Detect(tt.text), entity.TypePhone)
			if tt.want == "" {
				if got != nil {
					t.Errorf("unexpected phone %q in %q", got.Text, tt.text)
				}
				return
			}
			if got == nil {
				t.Fatalf("no phone found in %q", tt.text)
			}
			if got.Text != tt.want {
				t.Errorf("phone = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestDetectSSN(t *testing.T) {
	d := NewRegexDetector()
	got := findType(d.Detect("SSN on file: 123-45-6789."), entity.TypeSSN)
	if got == nil || got.Text != "123-45-6789" {
		t.Fatalf("SSN detection failed: %+v", got)
	}
}

func TestDetectCreditCard(t *testing.T) {
	d := NewRegexDetector()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"dashes", "card 4111-1111-1111-1111 on file", "4111-1111-1111-1111"},
		{"spaces", "card 4111 1111 1111 1111 on file", "4111 1111 1111 1111"},
		{"solid", "card 4111111111111111 on file", "4111111111111111"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findType(d.Detect(tt.text), entity.TypeCreditCard)
			if got == nil {
				t.Fatalf("no card found in %q", tt.text)
			}
			if got.Text != tt.want {
				t.Errorf("card = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestDetectIPAddress(t *testing.T) {
	d := NewRegexDetector()

	if got := findType(d.Detect("logged in from 192.168.1.100 yesterday"), entity.TypeIPAddress); got == nil || got.Text != "192.168.1.100" {
		t.Errorf("IP detection failed: %+v", got)
	}
	// Octet out of range.
	if got := findType(d.Detect("bad addr 999.1.1.1 here"), entity.TypeIPAddress); got != nil {
		t.Errorf("unexpected IP %q", got.Text)
	}
}

func TestDetectZipCode(t *testing.T) {
	d := NewRegexDetector()

	if got := findType(d.Detect("Portland, OR 97201 USA"), entity.TypeZipCode); got == nil || got.Text != "97201" {
		t.Errorf("ZIP detection failed: %+v", got)
	}
	if got := findType(d.Detect("ZIP+4 is 97201-1234 here"), entity.TypeZipCode); got == nil || got.Text != "97201-1234" {
		t.Errorf("ZIP+4 detection failed: %+v", got)
	}
}

func TestDetectEarlierPatternWins(t *testing.T) {
	d := NewRegexDetector()

	// The SSN's trailing group must not also be claimed as a ZIP code.
	got := d.Detect("SSN 123-45-6789 noted")
	for _, e := range got {
		if e.Type == entity.TypeZipCode {
			t.Errorf("ZIP claimed inside SSN span: %+v", e)
		}
	}
	if ssn := findType(got, entity.TypeSSN); ssn == nil {
		t.Error("SSN not detected")
	}
}

func TestDetectSortedAndMultiple(t *testing.T) {
	d := NewRegexDetector()
	text := "Email a@b.co, phone 555-123-4567, IP 10.0.0.1."

	got := d.Detect(text)
	if len(got) != 3 {
		t.Fatalf("got %d entities, want 3: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].Start {
			t.Errorf("entities not sorted by start: %v", got)
		}
	}
	for _, e := range got {
		if text[e.Start:e.End] != e.Text {
			t.Errorf("span [%d, %d) does not match text %q", e.Start, e.End, e.Text)
		}
	}
}

func TestDetectEmptyAndClean(t *testing.T) {
	d := NewRegexDetector()
	if got := d.Detect(""); len(got) != 0 {
		t.Errorf("entities in empty text: %v", got)
	}
	if got := d.Detect("An ordinary sentence with no identifiers at all."); len(got) != 0 {
		t.Errorf("false positives in clean text: %v", got)
	}
}
