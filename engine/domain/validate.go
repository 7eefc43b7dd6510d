package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQueryRunes bounds the length of a user query.
const MaxQueryRunes = 2000

// ValidateQuery checks a free-text query and returns it trimmed.
func ValidateQuery(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewValidationError("query", text, ErrEmptyQuery)
	}
	if utf8.RuneCountInString(text) > MaxQueryRunes {
		return "", NewValidationError("query", string([]rune(text)[:64])+"...", ErrQueryTooLong)
	}
	return text, nil
}
