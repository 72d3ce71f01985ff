package validation

import (
	"strings"
	"testing"
)

func TestValidateRunID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"uuid", "3f2a9c6e-1d4b-4e8f-9a07-5b6c2d1e0f3a", false},
		{"short name", "hist-1", false},
		{"single char", "a", false},
		{"with underscore", "run_2025_08", false},
		{"with dot", "v1.2.3", false},
		{"max length", strings.Repeat("a", 64), false},

		// Invalid identifiers - injection and abuse attempts
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"path traversal", "../run:other", true},
		{"key separator", "run:abc", true},
		{"newline injection", "abc\ndef", true},
		{"spaces", "run 1", true},
		{"starts with dot", ".hidden", true},
		{"starts with hyphen", "-run", true},
		{"null byte", "abc\x00def", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRunID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeRunID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"clean passthrough", "hist-1", "hist-1", false},
		{"with spaces trimmed", "  hist-1  ", "hist-1", false},
		{"invalid rejected", "no good", "", true},
		{"whitespace only", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeRunID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeRunID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeRunID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
