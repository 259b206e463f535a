package metrics

import (
	"context"

	"github.com/sentinel-pii/sentinel/pkg/types"
)

// Recorder is the telemetry surface the agent drives.
type Recorder interface {
	MakeEvent(kind types.SecretKind, action types.Action, appName, rule string) types.TelemetryEvent
	Enqueue(ctx context.Context, ev types.TelemetryEvent) error
	FlushOnce(ctx context.Context) error
}

type wrappedRecorder struct {
	inner Recorder
	c     *Collector
}

// WrapRecorder counts enqueue failures and flush results of inner.
func WrapRecorder(inner Recorder, c *Collector) Recorder {
	if inner == nil {
		return nil
	}
	if c == nil {
		return inner
	}
	return &wrappedRecorder{inner: inner, c: c}
}

func (w *wrappedRecorder) MakeEvent(kind types.SecretKind, action types.Action, appName, rule string) types.TelemetryEvent {
	return w.inner.MakeEvent(kind, action, appName, rule)
}

func (w *wrappedRecorder) Enqueue(ctx context.Context, ev types.TelemetryEvent) error {
	err := w.inner.Enqueue(ctx, ev)
	if err != nil {
		w.c.IncEnqueueError()
	}
	return err
}

func (w *wrappedRecorder) FlushOnce(ctx context.Context) error {
	err := w.inner.FlushOnce(ctx)
	w.c.IncFlush(err)
	return err
}
