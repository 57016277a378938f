package validation

import (
	"testing"
	"unicode/utf8"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+15550100123", "+15550100123"},
		{"(555) 010-0123", "+15550100123"},
		{"555.010.0123", "+15550100123"},
		{"1 555 010 0123", "+15550100123"},
		{"+44 20 7946 0958", "+442079460958"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidPhone(t *testing.T) {
	valid := []string{"+15550100123", "+442079460958", "+2348012345678"}
	for _, p := range valid {
		if !IsValidPhone(p) {
			t.Errorf("expected %q to be valid", p)
		}
	}

	invalid := []string{"", "5550100123", "+0123456", "+1 555", "bob"}
	for _, p := range invalid {
		if IsValidPhone(p) {
			t.Errorf("expected %q to be invalid", p)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	if got := SanitizeText("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("unexpected sanitized text: %q", got)
	}
	if got := SanitizeText("abcdef", 3); got != "abc" {
		t.Errorf("expected truncation, got %q", got)
	}
}

func TestSanitizeText_TruncatesOnRuneBoundary(t *testing.T) {
	// "héllo": the é is two bytes; cutting at 2 would split it.
	if got := SanitizeText("héllo", 2); got != "h" {
		t.Errorf("expected %q, got %q", "h", got)
	}
	for _, max := range []int{1, 2, 3, 4, 5} {
		got := SanitizeText("日本語", max) // three 3-byte runes
		if !utf8.ValidString(got) {
			t.Errorf("maxLen %d: result %q is not valid UTF-8", max, got)
		}
		if len(got) > max {
			t.Errorf("maxLen %d: result %q exceeds limit", max, got)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("subject_phone", ""),
		ValidPhone("subject_phone", "not-a-phone"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}

	errs = Validate(
		Required("subject_phone", "+15550100123"),
		ValidPhone("subject_phone", "+15550100123"),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}
