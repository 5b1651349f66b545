package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQueryRunes bounds a user question.
const MaxQueryRunes = 2000

// Template and operator fragments that never belong in a field question.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$\{.*\}`),
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`),
	regexp.MustCompile(`(?i)\bignore (all )?(previous|prior) instructions\b`),
}

// Phrases that ask the assistant not to show photos.
var imageOptOutPhrases = []string{"don't", "dont", "no photo", "no image", "stop showing"}

// ValidateQuestion checks a user question before retrieval.
func ValidateQuestion(q string) error {
	text := strings.TrimSpace(q)
	if text == "" {
		return NewValidationError("question", q, ErrQueryEmpty)
	}
	if utf8.RuneCountInString(text) > MaxQueryRunes {
		return NewValidationError("question", string([]rune(text)[:64]), ErrQueryTooLong)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("question", text, ErrQueryInjection)
		}
	}
	return nil
}

// WantsNoImage reports whether the question opts out of image display.
func WantsNoImage(q string) bool {
	lower := strings.ToLower(q)
	for _, p := range imageOptOutPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// CheckDims returns a DimensionMismatchError when len(vec) != want.
func CheckDims(collection string, want int, vec []float32) error {
	if len(vec) != want {
		return &DimensionMismatchError{Collection: collection, Want: want, Got: len(vec)}
	}
	return nil
}
