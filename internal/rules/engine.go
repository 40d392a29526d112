// Package rules corrects recognized transcripts before intent resolution.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
)

const defaultLoopLimit = 30

//go:embed default.rules
var defaultRules string

// Rule rewrites a transcript, reporting whether anything changed.
type Rule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser compiles one rules-file line.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (Rule, error)
}

// Engine applies an ordered list of rules until the text stops changing.
type Engine struct {
	rules     []Rule
	loopLimit int
}

// NewEngine loads rules from path. An empty path or a missing file selects
// the built-in corrections.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, DefaultParsers())
}

// NewEngineWithParsers is NewEngine with a custom parser set.
func NewEngineWithParsers(path string, loopLimit int, parsers []RuleParser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	source, origin := defaultRules, "built-in rules"
	if strings.TrimSpace(path) != "" {
		contents, err := os.ReadFile(path)
		switch {
		case err == nil:
			source, origin = string(contents), fmt.Sprintf("rules file %q", path)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
		}
	}

	rules, err := Parse(source, parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", origin, err)
	}
	return NewEngineFromRules(rules, loopLimit), nil
}

// NewEngineFromRules wraps already compiled rules.
func NewEngineFromRules(rules []Rule, loopLimit int) *Engine {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	return &Engine{rules: rules, loopLimit: loopLimit}
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply runs every rule in order, repeating the pass until no rule changes
// the text or the loop limit is reached.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for pass := 0; pass < e.loopLimit; pass++ {
		changed := false
		for _, rule := range e.rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

// Parse compiles rules text. Blank lines and lines starting with # are skipped.
func Parse(contents string, parsers []RuleParser) ([]Rule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]Rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseLine(line string, parsers []RuleParser) (Rule, error) {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

// DefaultParsers understands sed-style regex rules and literal "a => b" rules.
func DefaultParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, literalRuleParser{}}
}
