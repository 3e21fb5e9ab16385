package chat

import (
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"plain", "hello", false},
		{"cyrillic", "привет", false},
		{"empty", "", true},
		{"whitespace only", "   \t", true},
		{"too many bytes", strings.Repeat("a", MaxMessageBytes+1), true},
		{"too many chars", strings.Repeat("ж", MaxTextChars+1), true},
		{"invalid utf8", "\xff\xfe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}

	if err := ValidateMessage(""); err != ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}
