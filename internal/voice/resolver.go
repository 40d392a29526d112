package voice

import (
	"strings"

	"modsy/internal/domain"
)

// Resolver matches transcripts against an AliasTable.
//
// Matching is substring containment on normalized text, so a phrase embedded
// in an unrelated word still matches ("saia" inside "saiam").
type Resolver struct {
	table *AliasTable
}

func NewResolver(table *AliasTable) *Resolver {
	if table == nil {
		table = DefaultAliasTable()
	}
	return &Resolver{table: table}
}

// Resolve returns the first category, in priority order, with a phrase
// contained in the normalized transcript, or domain.IntentNone.
func (r *Resolver) Resolve(raw string) domain.Intent {
	text := Normalize(raw)
	if text == "" {
		return domain.IntentNone
	}

	for _, intent := range domain.IntentPriority {
		for _, phrase := range r.table.phrases[intent] {
			if strings.Contains(text, phrase) {
				return intent
			}
		}
	}
	return domain.IntentNone
}
