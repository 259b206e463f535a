package scanner

import (
	"fmt"

	"github.com/sentinel-pii/sentinel/internal/config"
	"github.com/sentinel-pii/sentinel/pkg/types"
)

var (
	awsAccessKey = MustRegexPattern(types.SecretAWS,
		"AWS access key ID", `AKIA[0-9A-Z]{16}`)
	stripeSecretKey = MustRegexPattern(types.SecretStripe,
		"Stripe live or test secret key", `sk_(live|test)_[A-Za-z0-9]{24,}`)
)

// Builtin returns the built-in patterns in evaluation order.
func Builtin() []Pattern {
	return []Pattern{awsAccessKey, stripeSecretKey}
}

// Default returns a registry holding only the built-in patterns.
func Default() *Registry {
	return NewRegistry(Builtin()...)
}

// FromConfig returns the default registry extended with the configured
// rules, in file order.
func FromConfig(rules []config.PatternRule) (*Registry, error) {
	extra := make([]Pattern, 0, len(rules))
	for i, rule := range rules {
		p, err := RegexPattern(types.SecretKind(rule.Kind), rule.Description, rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("scanner.patterns[%d]: %w", i, err)
		}
		extra = append(extra, p)
	}
	return Default().With(extra...), nil
}
