package voice

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"

	"modsy/internal/domain"
)

// AliasTable maps each intent to the phrases that select it. It is built once
// and never mutated; phrases are stored normalized.
type AliasTable struct {
	phrases map[domain.Intent][]string
}

// DefaultAliases are the built-in Brazilian Portuguese phrases.
//
// "calça" is not an inferior phrase: normalized it is a prefix of "calcado",
// and inferior is tested before footwear.
func DefaultAliases() map[domain.Intent][]string {
	return map[domain.Intent][]string{
		domain.IntentSuperior: {"superior", "parte de cima", "de cima", "camisa", "camiseta", "blusa", "casaco"},
		domain.IntentInferior: {"inferior", "parte de baixo", "de baixo", "bermuda", "saia", "short"},
		domain.IntentFootwear: {"calçado", "calçados", "sapato", "tênis", "sandália", "bota", "chinelo"},
	}
}

// DefaultAliasTable returns the table built from DefaultAliases.
func DefaultAliasTable() *AliasTable {
	table, err := NewAliasTable(DefaultAliases())
	if err != nil {
		panic(fmt.Sprintf("default alias table is invalid: %v", err))
	}
	return table
}

// NewAliasTable normalizes and de-duplicates the given phrases, keeping order.
func NewAliasTable(raw map[domain.Intent][]string) (*AliasTable, error) {
	phrases := make(map[domain.Intent][]string, len(domain.IntentPriority))
	for intent, list := range raw {
		if !isCategory(intent) {
			return nil, fmt.Errorf("unknown intent category %q", intent)
		}
		normalized := lo.Uniq(lo.Compact(lo.Map(list, func(phrase string, _ int) string {
			return Normalize(phrase)
		})))
		if len(normalized) == 0 {
			continue
		}
		phrases[intent] = normalized
	}
	if len(phrases) == 0 {
		return nil, errors.New("alias table has no phrases")
	}
	return &AliasTable{phrases: phrases}, nil
}

// LoadAliasTable extends base with the phrases listed in path. A blank path
// or a missing file yields the base table.
//
// File format, one category per line:
//
//	superior: parte de cima, camisa
//	# comments and blank lines are ignored
func LoadAliasTable(path string, base map[domain.Intent][]string) (*AliasTable, error) {
	merged := make(map[domain.Intent][]string, len(base))
	for intent, list := range base {
		merged[intent] = append([]string(nil), list...)
	}

	if strings.TrimSpace(path) == "" {
		return NewAliasTable(merged)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewAliasTable(merged)
		}
		return nil, fmt.Errorf("failed to read alias file %q: %w", path, err)
	}

	for index, raw := range strings.Split(string(contents), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, list, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("alias file %q line %d: expected \"category: phrase, ...\"", path, index+1)
		}
		intent, ok := domain.ParseIntent(strings.TrimSpace(strings.ToLower(name)))
		if !ok {
			return nil, fmt.Errorf("alias file %q line %d: unknown category %q", path, index+1, strings.TrimSpace(name))
		}
		merged[intent] = append(merged[intent], strings.Split(list, ",")...)
	}

	return NewAliasTable(merged)
}

// Phrases returns a copy of the normalized phrases for intent.
func (t *AliasTable) Phrases(intent domain.Intent) []string {
	return append([]string(nil), t.phrases[intent]...)
}

// Categories returns the intents that have phrases, in resolution priority order.
func (t *AliasTable) Categories() []domain.Intent {
	return lo.Filter(domain.IntentPriority, func(intent domain.Intent, _ int) bool {
		return len(t.phrases[intent]) > 0
	})
}

func isCategory(intent domain.Intent) bool {
	return lo.Contains(domain.IntentPriority, intent)
}
