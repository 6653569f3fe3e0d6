package cache

import (
	"regexp"
	"strings"
)

// Pattern selects cache keys for invalidation
type Pattern interface {
	Match(key string) bool
}

// Prefix matches keys starting with the value
type Prefix string

// Match implements Pattern
func (p Prefix) Match(key string) bool {
	return strings.HasPrefix(key, string(p))
}

// Contains matches keys containing the value. The empty string matches every key.
type Contains string

// Match implements Pattern
func (p Contains) Match(key string) bool {
	return strings.Contains(key, string(p))
}

// RegexpPattern matches keys against a compiled expression
type RegexpPattern struct {
	re *regexp.Regexp
}

// Regexp wraps a compiled expression as a Pattern
func Regexp(re *regexp.Regexp) Pattern {
	return RegexpPattern{re: re}
}

// MatchRegexp compiles expr into a Pattern
func MatchRegexp(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return RegexpPattern{re: re}, nil
}

// Match implements Pattern
func (p RegexpPattern) Match(key string) bool {
	return p.re.MatchString(key)
}

func (p RegexpPattern) String() string {
	return p.re.String()
}

// ParsePattern interprets the admin query form: "re:<expr>" is a regexp,
// "prefix:<value>" a prefix, anything else a substring.
func ParsePattern(s string) (Pattern, error) {
	switch {
	case strings.HasPrefix(s, "re:"):
		return MatchRegexp(strings.TrimPrefix(s, "re:"))
	case strings.HasPrefix(s, "prefix:"):
		return Prefix(strings.TrimPrefix(s, "prefix:")), nil
	default:
		return Contains(s), nil
	}
}
