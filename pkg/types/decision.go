package types

// SecretKind labels a category of detected credential.
type SecretKind string

const (
	SecretAWS    SecretKind = "AWS"
	SecretStripe SecretKind = "Stripe"
)

// Action is the recorded outcome of a redaction decision.
type Action string

const (
	ActionBlocked Action = "blocked"
	ActionAllowed Action = "allowed"

	// ActionDetectedButSkipped is never produced by this agent but is
	// accepted from older producers by the collector.
	ActionDetectedButSkipped Action = "detected_but_skipped"
)

// IsValid reports whether a is one of the actions a collector accepts.
func (a Action) IsValid() bool {
	switch a {
	case ActionBlocked, ActionAllowed, ActionDetectedButSkipped:
		return true
	default:
		return false
	}
}
