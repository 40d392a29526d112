package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type literalRuleParser struct{}

func (literalRuleParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalRuleParser) Parse(line string) (Rule, error) {
	return parseLiteralRule(line)
}

type regexRuleParser struct{}

func (regexRuleParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isAlphaNumericOrSpace(line[1])
}

func (regexRuleParser) Parse(line string) (Rule, error) {
	return parseRegexRule(line)
}

// literalRule replaces a phrase when it appears as whole words. Go's \b only
// knows ASCII, so boundaries are spelled out with Unicode classes.
type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseLiteralRule(line string) (Rule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile(`(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(from) + `($|[^\p{L}\p{N}])`)
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: "${1}" + strings.ReplaceAll(to, "$", "$$") + "${2}"}, nil
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllString(input, r.replacement)
	return output, output != input
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

// parseRegexRule reads s<d>pattern<d>replacement<d>flags. Matching is always
// case insensitive; g replaces every match, m and s map to regexp flags.
func parseRegexRule(line string) (Rule, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isAlphaNumericOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	prefix := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(prefix, flag) {
				prefix += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement, global: global}, nil
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			escaped = false
		case char == '\\':
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isAlphaNumericOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}
