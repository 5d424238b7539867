// Package patterns compiles ordered lists of regex rules that carry a value.
//
// The same rule shape backs several features: statement timeouts (first match
// wins), error prompts (every match contributes), result sanitization (every
// rule rewrites the text in order) and the destructive-statement guard.
package patterns

import (
	"fmt"
	"regexp"
)

// Rule pairs a regex pattern with the value it yields on a match.
type Rule[T any] struct {
	Pattern string
	Value   T
}

type compiledRule[T any] struct {
	pattern *regexp.Regexp
	value   T
}

// Set is an ordered, immutable list of compiled rules. Safe for concurrent use.
type Set[T any] struct {
	rules []compiledRule[T]
}

// Compile compiles every rule in order. Returns an error naming the first
// pattern that fails to compile.
func Compile[T any](rules []Rule[T]) (*Set[T], error) {
	compiled := make([]compiledRule[T], len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("patterns: invalid regex pattern %q: %w", r.Pattern, err)
		}
		compiled[i] = compiledRule[T]{pattern: re, value: r.Value}
	}
	return &Set[T]{rules: compiled}, nil
}

// MustCompile is like Compile but panics on an invalid pattern. Intended for
// package-level rule tables.
func MustCompile[T any](rules []Rule[T]) *Set[T] {
	s, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of rules.
func (s *Set[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// First returns the value and pattern of the first rule matching text.
func (s *Set[T]) First(text string) (value T, pattern string, ok bool) {
	if s == nil {
		return value, "", false
	}
	for _, r := range s.rules {
		if r.pattern.MatchString(text) {
			return r.value, r.pattern.String(), true
		}
	}
	return value, "", false
}

// All returns the values of every rule matching text, top to bottom.
// Returns nil if nothing matches.
func (s *Set[T]) All(text string) []T {
	if s == nil {
		return nil
	}
	var values []T
	for _, r := range s.rules {
		if r.pattern.MatchString(text) {
			values = append(values, r.value)
		}
	}
	return values
}

// MatchedPatterns returns the source patterns of every rule matching text.
func (s *Set[T]) MatchedPatterns(text string) []string {
	if s == nil {
		return nil
	}
	var matched []string
	for _, r := range s.rules {
		if r.pattern.MatchString(text) {
			matched = append(matched, r.pattern.String())
		}
	}
	return matched
}

// ReplaceAll applies every rule of a replacement set to text in order. Each
// rule's value is the replacement template ($1, ${name} expand as in
// regexp.ReplaceAllString).
func ReplaceAll(s *Set[string], text string) string {
	if s == nil {
		return text
	}
	for _, r := range s.rules {
		text = r.pattern.ReplaceAllString(text, r.value)
	}
	return text
}
