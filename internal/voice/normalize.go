// Package voice turns recognized speech into wardrobe intents.
package voice

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes text for comparison: lower-case, no diacritics,
// only letters separated by single spaces.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	// Casers are stateful, so one per call.
	lowered := cases.Lower(language.BrazilianPortuguese).String(text)

	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	stripped, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		stripped = lowered
	}

	var builder strings.Builder
	builder.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			builder.WriteRune(r)
			continue
		}
		builder.WriteByte(' ')
	}

	return strings.Join(strings.Fields(builder.String()), " ")
}
