package objectkey

import (
	"errors"
	"strings"
	"testing"
)

func TestHubScopedGenerator(t *testing.T) {
	gen := NewHubScopedGenerator()

	tests := []struct {
		name     string
		hubID    string
		filename string
		expected string
	}{
		{"plain file", "aB3dE5fG7h", "notes.txt", "aB3dE5fG7h/notes.txt"},
		{"spaces kept", "aB3dE5fG7h", "my report.pdf", "aB3dE5fG7h/my report.pdf"},
		{"unicode kept", "aB3dE5fG7h", "résumé.pdf", "aB3dE5fG7h/résumé.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := gen.Key(tt.hubID, tt.filename)
			if key != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, key)
			}
			if !strings.HasPrefix(key, gen.Prefix(tt.hubID)) {
				t.Errorf("key %s is outside prefix %s", key, gen.Prefix(tt.hubID))
			}
		})
	}
}

func TestNamespacedGenerator(t *testing.T) {
	gen := NewNamespacedGenerator("/hubs/")

	if got := gen.Key("abc", "a.txt"); got != "hubs/abc/a.txt" {
		t.Errorf("unexpected key %s", got)
	}
	if got := gen.Prefix("abc"); got != "hubs/abc/" {
		t.Errorf("unexpected prefix %s", got)
	}

	empty := NewNamespacedGenerator("")
	if got := empty.Key("abc", "a.txt"); got != "abc/a.txt" {
		t.Errorf("unexpected key without root %s", got)
	}
}

func TestPrefixesDoNotOverlap(t *testing.T) {
	gen := NewHubScopedGenerator()
	// A hub whose ID is a prefix of another must not capture its objects.
	if strings.HasPrefix(gen.Key("abcd", "x"), gen.Prefix("abc")) {
		t.Error("prefix of hub abc matches objects of hub abcd")
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		valid    bool
	}{
		{"simple", "report.pdf", true},
		{"dotfile", ".env", true},
		{"unicode", "日本語.txt", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"slash", "a/b.txt", false},
		{"backslash", "a\\b.txt", false},
		{"nul", "a\x00b", false},
		{"newline", "a\nb", false},
		{"too long", strings.Repeat("a", MaxFilenameBytes+1), false},
		{"max length", strings.Repeat("a", MaxFilenameBytes), true},
		{"invalid utf8", "a\xffb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidFilename) {
				t.Errorf("expected ErrInvalidFilename, got %v", err)
			}
		})
	}
}
