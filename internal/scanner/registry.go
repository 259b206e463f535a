// Package scanner classifies text against an ordered registry of secret
// patterns. Evaluation order is registration order and the first matching
// pattern wins, so extending a registry never changes the kind reported for
// text an earlier pattern already matches.
package scanner

import (
	"fmt"
	"regexp"

	"github.com/sentinel-pii/sentinel/pkg/types"
)

// Pattern is one named detector. Patterns are immutable once built.
type Pattern struct {
	Kind        types.SecretKind
	Description string
	// Expr is the source regular expression, empty for custom matchers.
	Expr string

	match func(string) bool
}

// NewPattern builds a pattern from an arbitrary matcher.
func NewPattern(kind types.SecretKind, description string, match func(string) bool) Pattern {
	if kind == "" {
		panic("scanner: pattern kind is empty")
	}
	if match == nil {
		panic("scanner: pattern matcher is nil")
	}
	return Pattern{Kind: kind, Description: description, match: match}
}

// RegexPattern compiles expr into a pattern that matches any substring.
func RegexPattern(kind types.SecretKind, description, expr string) (Pattern, error) {
	if kind == "" {
		return Pattern{}, fmt.Errorf("pattern kind is empty")
	}
	if expr == "" {
		return Pattern{}, fmt.Errorf("pattern %s: empty expression", kind)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %s: %w", kind, err)
	}
	return Pattern{Kind: kind, Description: description, Expr: expr, match: re.MatchString}, nil
}

// MustRegexPattern is RegexPattern for expressions fixed at compile time.
func MustRegexPattern(kind types.SecretKind, description, expr string) Pattern {
	p, err := RegexPattern(kind, description, expr)
	if err != nil {
		panic("scanner: " + err.Error())
	}
	return p
}

// Match reports whether the pattern occurs anywhere in text.
func (p Pattern) Match(text string) bool {
	if p.match == nil {
		return false
	}
	return p.match(text)
}

// Registry is an immutable ordered collection of patterns.
type Registry struct {
	patterns []Pattern
}

// NewRegistry returns a registry evaluating patterns in the given order.
func NewRegistry(patterns ...Pattern) *Registry {
	cp := make([]Pattern, len(patterns))
	copy(cp, patterns)
	return &Registry{patterns: cp}
}

// With returns a new registry with patterns appended after the existing
// ones. The receiver is not modified.
func (r *Registry) With(patterns ...Pattern) *Registry {
	cp := make([]Pattern, 0, len(r.patterns)+len(patterns))
	cp = append(cp, r.patterns...)
	cp = append(cp, patterns...)
	return &Registry{patterns: cp}
}

// Classify returns the kind of the first pattern found in text.
func (r *Registry) Classify(text string) (types.SecretKind, bool) {
	if r == nil || text == "" {
		return "", false
	}
	for _, p := range r.patterns {
		if p.Match(text) {
			return p.Kind, true
		}
	}
	return "", false
}

// Contains reports whether text holds any registered secret.
func (r *Registry) Contains(text string) bool {
	_, ok := r.Classify(text)
	return ok
}

// Patterns returns a copy of the registered patterns in evaluation order.
func (r *Registry) Patterns() []Pattern {
	cp := make([]Pattern, len(r.patterns))
	copy(cp, r.patterns)
	return cp
}

// Kinds returns the distinct kinds in first-registration order.
func (r *Registry) Kinds() []types.SecretKind {
	seen := make(map[types.SecretKind]bool, len(r.patterns))
	var kinds []types.SecretKind
	for _, p := range r.patterns {
		if !seen[p.Kind] {
			seen[p.Kind] = true
			kinds = append(kinds, p.Kind)
		}
	}
	return kinds
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	return len(r.patterns)
}
