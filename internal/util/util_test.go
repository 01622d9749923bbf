package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	got := GenerateRandomID("msg_", 16)
	if !strings.HasPrefix(got, "msg_") {
		t.Errorf("GenerateRandomID() = %v, want prefix msg_", got)
	}
	if len(got) != 20 {
		t.Errorf("GenerateRandomID() length = %d, want 20", len(got))
	}
	for _, c := range got[4:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex character %q in %q", c, got)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("GenerateRandomHex(0) should be empty")
	}
}

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"whatsapp:+50761234567", "50761234567", false},
		{"+507 6123-4567", "50761234567", false},
		{"50761234567@s.whatsapp.net", "50761234567", false},
		{"50761234567:12@s.whatsapp.net", "50761234567", false},
		{"", "", true},
		{"whatsapp:", "", true},
		{"+123", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalPhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CanonicalPhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if MustCanonicalPhone("bad") != "" {
		t.Error("MustCanonicalPhone should return empty on invalid input")
	}
	if DisplayPhone("50761234567") != "+50761234567" {
		t.Errorf("DisplayPhone() = %q", DisplayPhone("50761234567"))
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  ¡Buenos   Días! ": "buenos dias",
		"GRACIAS!!":         "gracias",
		"Qué tal?":          "que tal",
		"sí":                "si",
		"":                  "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
