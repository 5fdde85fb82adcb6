package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule replaces whole-word, case-insensitive matches of From with To.
type Rule struct {
	From string
	To   string
}

// Replacer applies rules in order. If a match starts with an uppercase letter
// the replacement is capitalized too.
type Replacer struct {
	rules []compiledRule
}

type compiledRule struct {
	re *regexp.Regexp
	to string
}

// NewReplacer compiles [from, to] pairs. Malformed pairs are skipped; config
// validation rejects them earlier.
func NewReplacer(pairs [][]string) *Replacer {
	r := &Replacer{}
	for _, p := range pairs {
		if len(p) != 2 || p[0] == "" {
			continue
		}
		r.rules = append(r.rules, compiledRule{
			re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(p[0]) + `\b`),
			to: p[1],
		})
	}
	return r
}

func (r *Replacer) Replace(s string) string {
	if r == nil {
		return s
	}
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			first, _ := utf8.DecodeRuneInString(match)
			if unicode.IsLower(first) {
				return rule.to
			}
			return capitalize(rule.to)
		})
	}
	return s
}

func capitalize(s string) string {
	first, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(first)) + s[size:]
}

// Replace is a one-shot helper.
func Replace(s string, pairs [][]string) string {
	return NewReplacer(pairs).Replace(s)
}

// CollapseSpaces trims and squeezes runs of whitespace.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
