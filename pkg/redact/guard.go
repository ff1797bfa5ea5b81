// Package redact scrubs PII from conversational text before anything is
// persisted. Matches are replaced with stable placeholder tokens and the
// placeholder -> original mapping is kept apart from conversational memory.
package redact

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrGuardClosed is returned when the guard cannot run its patterns.
// Callers must treat it as "reject storage", never "store unredacted".
var ErrGuardClosed = errors.New("redaction guard unavailable")

// Pattern is one named PII pattern
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

// Guard recognizes configured PII patterns in free text
type Guard struct {
	patterns []Pattern
}

// RedactionMap maps placeholder tokens back to the original values.
// It must be stored separately from conversational memory.
type RedactionMap map[string]string

// DefaultPatterns returns the built-in pattern table
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "EMAIL", re: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
		{Name: "PHONE", re: regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)},
	}
}

// NewGuard creates a guard from the built-in table plus extra named
// patterns. A pattern that does not compile makes construction fail, so
// a misconfigured guard never runs partially.
func NewGuard(extra map[string]string) (*Guard, error) {
	g := &Guard{patterns: DefaultPatterns()}

	for name, expr := range extra {
		if name == "" {
			return nil, fmt.Errorf("redaction pattern missing name")
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", name, err)
		}
		g.patterns = append(g.patterns, Pattern{Name: strings.ToUpper(name), re: re})
	}

	return g, nil
}

// Redact replaces every PII match with a stable placeholder token and
// returns the cleaned text plus the placeholder -> original mapping.
// Identical values get identical placeholders within one call.
func (g *Guard) Redact(text string) (string, RedactionMap, error) {
	if g == nil || len(g.patterns) == 0 {
		return "", nil, ErrGuardClosed
	}

	mapping := make(RedactionMap)
	byValue := make(map[string]string)
	clean := text

	for _, p := range g.patterns {
		count := 0
		clean = p.re.ReplaceAllStringFunc(clean, func(match string) string {
			if token, seen := byValue[match]; seen {
				return token
			}
			count++
			token := fmt.Sprintf("[%s_%d]", p.Name, count)
			byValue[match] = token
			mapping[token] = match
			return token
		})
	}

	return clean, mapping, nil
}
