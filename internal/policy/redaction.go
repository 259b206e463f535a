// Package policy decides whether a detected secret is redacted based on the
// application that currently has focus.
//
// Precedence: an allowlist match always skips redaction. A configured
// denylist redacts only on a confirmed match; an unknown application is
// left alone. With neither list configured every detected secret is
// redacted.
package policy

import (
	"strings"

	"github.com/sentinel-pii/sentinel/pkg/types"
)

// Rule names the branch that produced a Decision. It is recorded as the
// rule field of telemetry events.
type Rule string

const (
	RuleAllowlistMatch     Rule = "allowlist-match"
	RuleDenylistMatch      Rule = "denylist-match"
	RuleDenylistNoMatch    Rule = "denylist-no-match"
	RuleDenylistUnknownApp Rule = "denylist-unknown-app"
	RuleDefaultRedact      Rule = "default-redact"
)

// Lists holds the operator-supplied application filters. Entries are
// matched as case-insensitive substrings of the active application name.
type Lists struct {
	Denylist  []string `json:"denylist,omitempty"`
	Allowlist []string `json:"allowlist,omitempty"`
}

// Decision is the outcome of Decide.
type Decision struct {
	Redact bool `json:"redact"`
	Rule   Rule `json:"rule"`
	// Matched is the list entry that drove the outcome, if any.
	Matched string `json:"matched,omitempty"`
}

// Action maps the decision to the telemetry action.
func (d Decision) Action() types.Action {
	if d.Redact {
		return types.ActionBlocked
	}
	return types.ActionAllowed
}

// Decide applies the redaction precedence. An empty activeApp means the
// foreground application is unknown.
func Decide(activeApp string, denylist, allowlist []string) Decision {
	known := activeApp != ""

	if len(allowlist) > 0 && known {
		if entry, ok := firstMatch(activeApp, allowlist); ok {
			return Decision{Redact: false, Rule: RuleAllowlistMatch, Matched: entry}
		}
	}

	if len(denylist) > 0 {
		if !known {
			return Decision{Redact: false, Rule: RuleDenylistUnknownApp}
		}
		if entry, ok := firstMatch(activeApp, denylist); ok {
			return Decision{Redact: true, Rule: RuleDenylistMatch, Matched: entry}
		}
		return Decision{Redact: false, Rule: RuleDenylistNoMatch}
	}

	return Decision{Redact: true, Rule: RuleDefaultRedact}
}

// ShouldRedact is the boolean form of Decide.
func ShouldRedact(activeApp string, denylist, allowlist []string) bool {
	return Decide(activeApp, denylist, allowlist).Redact
}

// Decide applies the precedence using the receiver's lists.
func (l Lists) Decide(activeApp string) Decision {
	return Decide(activeApp, l.Denylist, l.Allowlist)
}

// MatchesApp reports whether pattern occurs in appName, ignoring case. An
// empty pattern matches everything; callers drop empty entries.
func MatchesApp(appName, pattern string) bool {
	return strings.Contains(strings.ToLower(appName), strings.ToLower(pattern))
}

func firstMatch(appName string, entries []string) (string, bool) {
	for _, e := range entries {
		if MatchesApp(appName, e) {
			return e, true
		}
	}
	return "", false
}
