package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is matched by *MalformedRecordError.
	ErrMalformedRecord = errors.New("malformed queue record")
	// ErrDelivery is matched by *DeliveryError.
	ErrDelivery = errors.New("telemetry delivery rejected")
)

// MalformedRecordError reports a queue line that is not valid JSON. Line is
// 1-based. A flush that hits one sends nothing.
type MalformedRecordError struct {
	Line int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed queue record at line %d", e.Line)
}

func (e *MalformedRecordError) Is(target error) bool { return target == ErrMalformedRecord }

// DeliveryError reports a non-2xx response from the telemetry endpoint.
type DeliveryError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("telemetry endpoint responded %s", e.Status)
	}
	return fmt.Sprintf("telemetry endpoint responded %s: %s", e.Status, e.Body)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }
