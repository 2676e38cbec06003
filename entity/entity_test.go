package entity

import "testing"

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Range
		want bool
	}{
		{"disjoint", Range{0, 5}, Range{10, 15}, false},
		{"touching is not overlapping", Range{0, 5}, Range{5, 10}, false},
		{"partial", Range{0, 5}, Range{3, 8}, true},
		{"contained", Range{0, 10}, Range{3, 5}, true},
		{"identical", Range{2, 7}, Range{2, 7}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.a, tt.b); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			// Overlap is symmetric.
			if got := Overlaps(tt.b, tt.a); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestSortByStart(t *testing.T) {
	entities := []Entity{
		{Type: TypePhone, Start: 20, End: 30},
		{Type: TypeEmail, Start: 5, End: 15},
		{Type: TypeName, Start: 5, End: 10},
	}
	SortByStart(entities)

	if entities[0].Type != TypeName {
		t.Errorf("first entity = %s, want NAME (shorter span on tied start)", entities[0].Type)
	}
	if entities[1].Type != TypeEmail || entities[2].Type != TypePhone {
		t.Errorf("unexpected order: %v", entities)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		raw    string
		want   Type
		wantOK bool
	}{
		{"NAME", TypeName, true},
		{"name", TypeName, true},
		{" Email ", TypeEmail, true},
		{"MEDICAL", TypeMedical, true},
		{"PERSON", "PERSON", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseType(tt.raw)
		if ok != tt.wantOK {
			t.Errorf("ParseType(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
		}
		if ok && got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := Label(TypeSSN); got != "Social Security number" {
		t.Errorf("Label(SSN) = %q", got)
	}
	if got := Label(TypeUnknown); got != "Sensitive information" {
		t.Errorf("Label(UNKNOWN) = %q, want fallback", got)
	}
}
