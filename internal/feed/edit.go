package feed

import (
	"fmt"
	"regexp"
	"strings"
)

// EditRule rewrites item link URLs, or raw feed data before parsing. It
// is written in sed form,
// s<d>pattern<d>replacement<d>[flags], where <d> is any delimiter
// character. Flags: g replaces every match, i matches case-insensitively.
type EditRule struct {
	Pattern     *regexp.Regexp
	Replacement string
	Global      bool
	source      string
}

// ParseEditRule parses a sed-style substitution. A delimiter can be
// escaped with a backslash inside pattern or replacement.
func ParseEditRule(s string) (EditRule, error) {
	s = strings.TrimSpace(s)
	if len(s) < 4 || s[0] != 's' {
		return EditRule{}, fmt.Errorf("edit rule %q: must look like s/pattern/replacement/", s)
	}
	delim := s[1]

	parts := splitUnescaped(s[2:], delim)
	if len(parts) != 3 {
		return EditRule{}, fmt.Errorf("edit rule %q: want 3 %q-delimited fields, got %d", s, delim, len(parts))
	}

	pattern, repl, flags := parts[0], parts[1], parts[2]
	rule := EditRule{Replacement: repl, source: s}
	for _, f := range flags {
		switch f {
		case 'g':
			rule.Global = true
		case 'i':
			pattern = "(?i)" + pattern
		default:
			return EditRule{}, fmt.Errorf("edit rule %q: unknown flag %q", s, f)
		}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return EditRule{}, fmt.Errorf("edit rule %q: %w", s, err)
	}
	rule.Pattern = re
	return rule, nil
}

func (r EditRule) String() string { return r.source }

// Apply rewrites s. Without the g flag only the first match is replaced.
func (r EditRule) Apply(s string) string {
	if r.Pattern == nil {
		return s
	}
	if r.Global {
		return r.Pattern.ReplaceAllString(s, r.Replacement)
	}
	loc := r.Pattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	var out []byte
	out = append(out, s[:loc[0]]...)
	out = r.Pattern.ExpandString(out, r.Replacement, s, loc)
	out = append(out, s[loc[1]:]...)
	return string(out)
}

// Rewrite runs rules over s in order.
func Rewrite(rules []EditRule, s string) string {
	for _, r := range rules {
		s = r.Apply(s)
	}
	return s
}

// ApplyEditRules runs every rule, in order, over each link of each item.
func ApplyEditRules(rules []EditRule, items []*Item) {
	if len(rules) == 0 {
		return
	}
	for _, it := range items {
		for i := range it.Links {
			it.Links[i].URL = Rewrite(rules, it.Links[i].URL)
		}
	}
}

// splitUnescaped splits s on delim, dropping the backslash from escaped
// delimiters. The trailing field (flags) may be empty.
func splitUnescaped(s string, delim byte) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == delim {
			cur.WriteByte(delim)
			i++
			continue
		}
		if c == delim {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())
	return parts
}
