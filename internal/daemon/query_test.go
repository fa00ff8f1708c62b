package daemon

import (
	"errors"
	"strings"
	"testing"
)

func TestParseQueryValueAccepted(t *testing.T) {
	for _, s := range []string{"master4", "R192_175", "R194_42", "peer.example:179", "a"} {
		v, err := ParseQueryValue(s)
		if err != nil {
			t.Errorf("ParseQueryValue(%q) error = %v", s, err)
			continue
		}
		if string(v) != s {
			t.Errorf("ParseQueryValue(%q) = %q", s, v)
		}
	}
}

func TestParseQueryValueRejected(t *testing.T) {
	tests := []struct {
		input  string
		reason string
	}{
		{"", "is empty"},
		{strings.Repeat("x", 129), "is too long"},
		{"m4'", "contains invalid characters"},
		{"R192 175", "contains invalid characters"},
		{"R192`date`175", "contains invalid characters"},
		{"a;b", "contains invalid characters"},
		{"a\nb", "contains invalid characters"},
	}

	for _, tt := range tests {
		_, err := ParseQueryValue(tt.input)
		if err == nil {
			t.Errorf("ParseQueryValue(%q) expected error", tt.input)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("ParseQueryValue(%q) error type = %T", tt.input, err)
			continue
		}
		if verr.Reason != tt.reason {
			t.Errorf("ParseQueryValue(%q) reason = %q, want %q", tt.input, verr.Reason, tt.reason)
		}
	}
}

func TestParseQueryValueLengthBoundary(t *testing.T) {
	if _, err := ParseQueryValue(strings.Repeat("x", 128)); err != nil {
		t.Errorf("128 characters should be accepted: %v", err)
	}
}
