package pattern

import (
	"regexp"
	"strings"

	"github.com/peakfeed/cache-service/types"
)

// Matcher is a compiled glob pattern. Supported syntax: `*` matches zero or
// more characters, `?` matches exactly one character, `{a|b|c}` matches one
// of the alternatives. Matching is anchored to the whole key.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

func Compile(pattern string) (*Matcher, error) {
	if pattern == "" {
		return nil, types.Errorf(types.ErrInvalidPattern, "pattern is empty")
	}

	expr, err := translate(pattern)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidPattern, "pattern %q: %v", pattern, err)
	}

	return &Matcher{pattern: pattern, re: re}, nil
}

func (m *Matcher) Matches(key string) bool {
	if key == "" {
		return false
	}
	return m.re.MatchString(key)
}

func (m *Matcher) Pattern() string {
	return m.pattern
}

// MatchKeys filters keys to those the matcher accepts, preserving order.
func (m *Matcher) MatchKeys(keys []string) []string {
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if m.Matches(key) {
			matched = append(matched, key)
		}
	}
	return matched
}

func translate(pattern string) (string, error) {
	var sb strings.Builder
	sb.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '{':
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '{' {
					return "", types.Errorf(types.ErrInvalidPattern, "pattern %q: nested alternation", pattern)
				}
				if runes[j] == '}' {
					end = j
					break
				}
			}
			if end < 0 {
				return "", types.Errorf(types.ErrInvalidPattern, "pattern %q: unbalanced alternation", pattern)
			}

			alternatives := strings.Split(string(runes[i+1:end]), "|")
			quoted := make([]string, len(alternatives))
			for k, alt := range alternatives {
				quoted[k] = regexp.QuoteMeta(alt)
			}

			sb.WriteString("(")
			sb.WriteString(strings.Join(quoted, "|"))
			sb.WriteString(")")
			i = end
		case '}':
			return "", types.Errorf(types.ErrInvalidPattern, "pattern %q: unbalanced alternation", pattern)
		default:
			sb.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}

	sb.WriteString("$")
	return sb.String(), nil
}
