package types

import (
	"fmt"
	"time"
)

// TimestampLayout is the textual form of TelemetryEvent.Timestamp: RFC 3339
// with fixed-width nanoseconds, so UTC values sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TelemetryEvent is the audit record of one detect-and-decide outcome.
// Optional fields are pointers so an absent value survives a JSON round
// trip as null rather than as an empty string.
type TelemetryEvent struct {
	EventID         string     `json:"event_id"`
	Timestamp       string     `json:"timestamp"`
	SecretType      SecretKind `json:"secret_type"`
	Action          Action     `json:"action"`
	AppName         *string    `json:"app_name"`
	Rule            *string    `json:"rule"`
	MachineIDHashed *string    `json:"machine_id_hashed"`
	AgentVersion    string     `json:"agent_version"`
}

// Time parses the event timestamp.
func (e TelemetryEvent) Time() (time.Time, error) {
	if e.Timestamp == "" {
		return time.Time{}, fmt.Errorf("event %q has no timestamp", e.EventID)
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %q timestamp: %w", e.EventID, err)
	}
	return t, nil
}

// FormatTimestamp renders t in the layout used by TelemetryEvent.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// StringPtr returns nil for the empty string and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
