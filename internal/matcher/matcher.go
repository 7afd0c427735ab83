// Package matcher filters file names with glob or regex patterns. The
// history miner uses it to choose which log files to scan and which to
// skip (for example the engine's own reports).
package matcher

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// PatternType represents the type of pattern matching to use.
type PatternType int

const (
	// Glob uses shell-style glob patterns (*, ?, []).
	Glob PatternType = iota
	// Regex uses regular expressions.
	Regex
	// Auto attempts to detect the pattern type.
	Auto
)

// String returns a string representation of the PatternType.
func (pt PatternType) String() string {
	switch pt {
	case Glob:
		return "glob"
	case Regex:
		return "regex"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// Matcher reports whether a name matches a pattern.
type Matcher interface {
	Match(input string) bool
	Pattern() string
	Type() PatternType
}

type matcher struct {
	pattern         string
	patternType     PatternType
	compiled        *regexp.Regexp
	glob            string
	caseInsensitive bool
}

// Options configures the matcher behavior.
type Options struct {
	// CaseInsensitive makes matching case-insensitive
	CaseInsensitive bool
	// BaseName matches globs against the last path element only
	BaseName bool
}

// New creates a new Matcher with the specified pattern and type.
func New(patternType PatternType, pattern string, opts ...Options) (Matcher, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if patternType == Auto {
		patternType = detectPatternType(pattern)
	}

	m := &matcher{pattern: pattern, patternType: patternType, caseInsensitive: o.CaseInsensitive}
	switch patternType {
	case Glob:
		m.glob = pattern
		if o.CaseInsensitive {
			m.glob = strings.ToLower(pattern)
		}
		if _, err := path.Match(m.glob, ""); err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if o.BaseName {
			return baseNameMatcher{m}, nil
		}
	case Regex:
		expr := pattern
		if o.CaseInsensitive && !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		compiled, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		m.compiled = compiled
	default:
		return nil, fmt.Errorf("unsupported pattern type: %v", patternType)
	}
	return m, nil
}

// Match checks if the input matches the pattern.
func (m *matcher) Match(input string) bool {
	switch m.patternType {
	case Glob:
		if m.caseInsensitive {
			input = strings.ToLower(input)
		}
		ok, _ := path.Match(m.glob, input)
		return ok
	case Regex:
		return m.compiled.MatchString(input)
	default:
		return false
	}
}

func (m *matcher) Pattern() string { return m.pattern }

func (m *matcher) Type() PatternType { return m.patternType }

type baseNameMatcher struct{ *matcher }

func (b baseNameMatcher) Match(input string) bool {
	return b.matcher.Match(path.Base(strings.ReplaceAll(input, "\\", "/")))
}

func detectPatternType(pattern string) PatternType {
	for _, indicator := range []string{"^", "$", `\d`, `\w`, `\s`, "(?", "{", "}", "+", "|", "(", ")"} {
		if strings.Contains(pattern, indicator) {
			return Regex
		}
	}
	return Glob
}

// Set matches when any of its patterns matches. An empty set matches nothing.
type Set struct {
	matchers []Matcher
}

// NewSet compiles patterns with automatic type detection.
func NewSet(patterns []string, opts ...Options) (*Set, error) {
	s := &Set{}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m, err := New(Auto, p, opts...)
		if err != nil {
			return nil, err
		}
		s.matchers = append(s.matchers, m)
	}
	return s, nil
}

// Match returns true if any pattern matches.
func (s *Set) Match(input string) bool {
	if s == nil {
		return false
	}
	for _, m := range s.matchers {
		if m.Match(input) {
			return true
		}
	}
	return false
}

// Len returns the number of patterns.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.matchers)
}
