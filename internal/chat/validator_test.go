package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "hello", "hello", nil},
		{"trimmed", "  hi there \n", "hi there", nil},
		{"empty", "", "", ErrEmpty},
		{"only spaces", "   \t ", "", ErrEmpty},
		{"exactly max", strings.Repeat("a", MaxTextChars), strings.Repeat("a", MaxTextChars), nil},
		{"too long", strings.Repeat("a", MaxTextChars+1), "", ErrTooLong},
		{"multibyte at max", strings.Repeat("é", MaxTextChars), strings.Repeat("é", MaxTextChars), nil},
		{"invalid utf8", string([]byte{0xff, 0xfe}), "", ErrInvalidArgument},
		{"padding beyond byte limit", strings.Repeat(" ", 4000) + "hello" + strings.Repeat("\n", 200), "hello", nil},
		{"long text inside padding", strings.Repeat(" ", MaxMessageBytes) + strings.Repeat("a", MaxTextChars+1), "", ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateText(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateText(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateOption(t *testing.T) {
	if err := ValidateOption("o1", "Is it available?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateOption("", "label"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("missing id: got %v, want ErrInvalidArgument", err)
	}
	if err := ValidateOption("o1", " "); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("blank label: got %v, want ErrInvalidArgument", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	long := strings.Repeat("x", 150)
	if got := Truncate(long, MaxPushChars); len([]rune(got)) != MaxPushChars {
		t.Errorf("expected %d chars, got %d", MaxPushChars, len([]rune(got)))
	}
	if got := Truncate("ééé", 2); got != "éé" {
		t.Errorf("Truncate multibyte = %q, want %q", got, "éé")
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		ErrInvalidArgument:         "invalid_argument",
		ErrNotFound:                "not_found",
		ErrUnauthorized:            "unauthorized",
		ErrRateLimited:             "rate_limited",
		ErrTooLong:                 "too_long",
		ErrEmpty:                   "empty",
		ErrInternal:                "internal",
		errors.New("driver broke"): "internal",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Errorf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
	if PublicMessage(errors.New("pq: connection refused")) == "pq: connection refused" {
		t.Error("internal error text leaked to client message")
	}
}
