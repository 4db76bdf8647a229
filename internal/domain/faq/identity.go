package faq

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// questionNamespace scopes the name-based ids of canonical questions.
var questionNamespace = uuid.MustParse("8f1c8a3e-53a4-4c8e-9a57-2f9b7b0c6d11")

// CanonicalID derives the stable id for a question. Questions that differ
// only in case, spacing or punctuation share an id.
func CanonicalID(question string) uuid.UUID {
	return uuid.NewSHA1(questionNamespace, []byte(normalizeQuestion(question)))
}

// normalizeQuestion lowercases q and collapses every run of non
// alphanumeric runes into a single space.
func normalizeQuestion(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}
