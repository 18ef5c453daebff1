package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTextChars     = 500 // max characters in a freetext message after trimming
	MaxPushChars     = 100 // push payloads carry at most this many characters
	MaxMessageBytes  = 4096
	DeleteMatchChars = 100 // prefix compared when matching a message by content
)

// ValidateText checks a freetext message and returns it trimmed.
func ValidateText(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: text contains invalid UTF-8", ErrInvalidArgument)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("%w: text is required", ErrEmpty)
	}
	// Surrounding whitespace does not count against either limit.
	if len(trimmed) > MaxMessageBytes {
		return "", fmt.Errorf("%w: message exceeds %d byte limit", ErrTooLong, MaxMessageBytes)
	}
	if utf8.RuneCountInString(trimmed) > MaxTextChars {
		return "", fmt.Errorf("%w: message exceeds %d character limit", ErrTooLong, MaxTextChars)
	}
	return trimmed, nil
}

// ValidateOption checks the payload of a structured option message.
func ValidateOption(optionID, optionText string) error {
	if strings.TrimSpace(optionID) == "" || strings.TrimSpace(optionText) == "" {
		return fmt.Errorf("%w: optionId and optionText are required", ErrInvalidArgument)
	}
	return nil
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
