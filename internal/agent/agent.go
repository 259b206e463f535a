// Package agent runs the clipboard poll loop: it watches for new clipboard
// text, classifies it, applies the redaction policy and records the outcome
// in the telemetry queue.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-pii/sentinel/internal/config"
	"github.com/sentinel-pii/sentinel/internal/metrics"
	"github.com/sentinel-pii/sentinel/internal/policy"
	"github.com/sentinel-pii/sentinel/internal/scanner"
	"github.com/sentinel-pii/sentinel/pkg/hotreload"
	"github.com/sentinel-pii/sentinel/pkg/types"
)

const shutdownFlushTimeout = 10 * time.Second

type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

type AppResolver interface {
	ActiveApp(ctx context.Context) (string, bool)
}

// Recorder is satisfied by *telemetry.Queue.
type Recorder interface {
	MakeEvent(kind types.SecretKind, action types.Action, appName, rule string) types.TelemetryEvent
	Enqueue(ctx context.Context, ev types.TelemetryEvent) error
	FlushOnce(ctx context.Context) error
}

type Options struct {
	Interval      time.Duration
	FlushInterval time.Duration
	DryRun        bool
	RedactText    string
	Registry      *scanner.Registry
	Lists         policy.Lists
}

type Option func(*Agent)

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(a *Agent) { a.metrics = c }
}

// Outcome describes one poll cycle.
type Outcome struct {
	// Changed is true when the clipboard held text not seen last cycle.
	Changed  bool
	Kind     types.SecretKind
	Detected bool
	App      string
	Decision policy.Decision
	Redacted bool
	// Event is set when a detection was recorded.
	Event      *types.TelemetryEvent
	EnqueueErr error
}

// Agent is driven from a single goroutine; only SetLists may be called
// concurrently with Tick or Run.
type Agent struct {
	opts     Options
	clip     Clipboard
	resolver AppResolver
	recorder Recorder
	lists    *hotreload.Reloadable[policy.Lists]
	log      *slog.Logger
	metrics  *metrics.Collector

	lastText string
}

func New(opts Options, clip Clipboard, resolver AppResolver, recorder Recorder, options ...Option) *Agent {
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Minute
	}
	if opts.RedactText == "" {
		opts.RedactText = config.DefaultRedactText
	}
	if opts.Registry == nil {
		opts.Registry = scanner.Default()
	}
	lists := opts.Lists
	a := &Agent{
		opts:     opts,
		clip:     clip,
		resolver: resolver,
		recorder: recorder,
		lists:    hotreload.NewReloadable(&lists),
		log:      slog.Default(),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// SetLists replaces the application filters used by subsequent cycles.
func (a *Agent) SetLists(l policy.Lists) {
	a.lists.Swap(&l)
	a.log.Info("policy lists reloaded", "denylist", len(l.Denylist), "allowlist", len(l.Allowlist))
}

// Lists returns the filters currently in effect.
func (a *Agent) Lists() policy.Lists {
	return *a.lists.Get()
}

// Tick runs one poll cycle.
func (a *Agent) Tick(ctx context.Context) Outcome {
	var out Outcome

	text, err := a.clip.ReadText()
	if err != nil {
		a.log.Debug("clipboard read failed", "error", err)
		return out
	}
	if text == a.lastText {
		return out
	}
	a.lastText = text
	out.Changed = true

	kind, ok := a.opts.Registry.Classify(text)
	if !ok {
		return out
	}
	out.Kind = kind
	out.Detected = true
	a.metrics.IncSecretDetected(kind)

	app := ""
	if a.resolver != nil {
		app, _ = a.resolver.ActiveApp(ctx)
	}
	out.App = app

	lists := a.lists.Get()
	out.Decision = lists.Decide(app)
	action := out.Decision.Action()
	a.metrics.IncDecision(action, string(out.Decision.Rule))

	if out.Decision.Redact && !a.opts.DryRun {
		if err := a.clip.WriteText(a.opts.RedactText); err != nil {
			a.log.Warn("clipboard redaction failed", "kind", kind, "error", err)
		} else {
			// The redaction text is now on the clipboard; do not rescan it.
			a.lastText = a.opts.RedactText
			out.Redacted = true
			a.metrics.IncRedaction()
		}
	}

	a.log.Info("secret detected",
		"kind", kind,
		"app", app,
		"action", action,
		"rule", out.Decision.Rule,
		"dry_run", a.opts.DryRun,
		"redacted", out.Redacted,
	)

	if a.recorder != nil {
		ev := a.recorder.MakeEvent(kind, action, app, string(out.Decision.Rule))
		out.Event = &ev
		if err := a.recorder.Enqueue(ctx, ev); err != nil {
			out.EnqueueErr = err
			a.log.Warn("telemetry enqueue failed", "error", err)
		}
	}
	return out
}

// Run polls until ctx is cancelled, flushing telemetry every FlushInterval
// and once more on the way out.
func (a *Agent) Run(ctx context.Context) error {
	if a.clip == nil {
		return fmt.Errorf("agent has no clipboard")
	}
	a.log.Info("clipboard agent started",
		"interval", a.opts.Interval,
		"dry_run", a.opts.DryRun,
		"patterns", a.opts.Registry.Len(),
	)
	a.metrics.SetUp(true)
	defer a.metrics.SetUp(false)

	poll := time.NewTicker(a.opts.Interval)
	defer poll.Stop()
	flush := time.NewTicker(a.opts.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush(context.Background(), shutdownFlushTimeout)
			a.log.Info("clipboard agent stopped")
			return nil
		case <-poll.C:
			a.Tick(ctx)
		case <-flush.C:
			a.flush(ctx, a.opts.FlushInterval)
		}
	}
}

func (a *Agent) flush(ctx context.Context, timeout time.Duration) {
	if a.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.recorder.FlushOnce(ctx); err != nil {
		a.log.Warn("telemetry flush failed", "error", err)
	}
}
