package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	if id1 == id2 {
		t.Error("expected different IDs")
	}

	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("expected prefix 'test_', got %s", id1)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "hello", "hello"},
		{"with control chars", "hello\x00world", "helloworld"},
		{"with newline", "hello\nworld", "hello\nworld"},
		{"with whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeString(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	if got := TruncateString("abcdef", 10); got != "abcdef" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	if got := TruncateString("abcdefghij", 6); got != "abc..." {
		t.Errorf("expected truncated string, got %q", got)
	}
}

func TestIsExpired(t *testing.T) {
	if IsExpired(time.Now(), time.Minute) {
		t.Error("fresh timestamp should not be expired")
	}
	if !IsExpired(time.Now().Add(-2*time.Minute), time.Minute) {
		t.Error("old timestamp should be expired")
	}
}
