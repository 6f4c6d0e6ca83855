package rewrite

import (
	"fmt"
	"regexp"
)

// Rule is a local path rewrite: inbound requests whose full public path
// matches From are answered with a redirect to the substituted path before
// any upstream contact.
type Rule struct {
	From *regexp.Regexp
	To   string
}

// CompileRules compiles configured (pattern, replacement) pairs.
func CompileRules(pairs [][]string) ([]Rule, error) {
	rules := make([]Rule, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("rewrite rule %d: want [from, to], got %d elements", i, len(pair))
		}
		re, err := regexp.Compile(pair[0])
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %d: %w", i, err)
		}
		rules = append(rules, Rule{From: re, To: pair[1]})
	}
	return rules, nil
}

// Apply runs the first matching rule against the full public path (query
// included, in "path?query" form) and returns the redirect target. A rule
// matches only at the start of the path.
func Apply(rules []Rule, fullPath string) (redirectTo string, ok bool) {
	for _, r := range rules {
		loc := r.From.FindStringIndex(fullPath)
		if loc == nil || loc[0] != 0 {
			continue
		}
		return r.From.ReplaceAllString(fullPath, r.To), true
	}
	return "", false
}
