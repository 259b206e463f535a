// Package telemetry implements the durable, file-backed queue of detection
// events. Events are appended as JSON lines, the file is rotated by size
// and pruned by age, and the whole backlog is delivered to a remote
// endpoint in one batch with at-least-once semantics.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinel-pii/sentinel/pkg/types"
)

const (
	DefaultMaxQueueBytes = 1_000_000
	DefaultMaxAge        = 30 * 24 * time.Hour

	fileMode = 0o600
)

// Config describes where the queue lives and where it is delivered.
type Config struct {
	Enabled bool
	URL     string
	APIKey  string

	QueueFile     string
	MaxQueueBytes int64
	MaxAge        time.Duration

	AgentVersion string

	// Timeout bounds one flush request. Zero leaves the transport default.
	Timeout time.Duration
}

// Mirror receives each event after it has been durably queued. It must not
// block for long and its failures are not reported to the caller.
type Mirror interface {
	Emit(ctx context.Context, ev types.TelemetryEvent)
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) { q.newID = gen }
}

func WithMachineID(fn func() (string, bool)) Option {
	return func(q *Queue) { q.machineID = fn }
}

func WithHTTPClient(c *http.Client) Option {
	return func(q *Queue) { q.client = c }
}

func WithMirror(m Mirror) Option {
	return func(q *Queue) { q.mirror = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Queue is safe for concurrent use within one process. It does not guard
// against a second process writing the same file.
type Queue struct {
	cfg Config

	now       func() time.Time
	newID     func() string
	machineID func() (string, bool)
	client    *http.Client
	mirror    Mirror
	log       *slog.Logger

	idOnce sync.Once
	idHash *string

	mu sync.Mutex
}

func New(cfg Config, opts ...Option) (*Queue, error) {
	if cfg.QueueFile == "" {
		return nil, fmt.Errorf("telemetry queue file is empty")
	}
	if cfg.MaxQueueBytes <= 0 {
		cfg.MaxQueueBytes = DefaultMaxQueueBytes
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	q := &Queue{
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		machineID: HostnameHash,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	if q.client == nil {
		q.client = &http.Client{Timeout: cfg.Timeout}
	}
	return q, nil
}

func (q *Queue) Enabled() bool { return q.cfg.Enabled }

func (q *Queue) Path() string { return q.cfg.QueueFile }

// MakeEvent builds an event stamped with a fresh id, the current time and
// the hashed machine identity. Empty appName or rule become null fields.
func (q *Queue) MakeEvent(kind types.SecretKind, action types.Action, appName, rule string) types.TelemetryEvent {
	return types.TelemetryEvent{
		EventID:         q.newID(),
		Timestamp:       types.FormatTimestamp(q.now()),
		SecretType:      kind,
		Action:          action,
		AppName:         types.StringPtr(appName),
		Rule:            types.StringPtr(rule),
		MachineIDHashed: q.machineHash(),
		AgentVersion:    q.cfg.AgentVersion,
	}
}

func (q *Queue) machineHash() *string {
	q.idOnce.Do(func() {
		if h, ok := q.machineID(); ok {
			q.idHash = &h
		}
	})
	if q.idHash == nil {
		return nil
	}
	h := *q.idHash
	return &h
}

// Enqueue durably appends ev to the queue file and then runs rotation and
// pruning. When the queue is disabled it returns nil without touching the
// filesystem. A maintenance error is returned after the append has already
// been synced to disk.
func (q *Queue) Enqueue(ctx context.Context, ev types.TelemetryEvent) error {
	if !q.cfg.Enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	q.mu.Lock()
	if err := q.appendLocked(append(line, '\n')); err != nil {
		q.mu.Unlock()
		return err
	}
	maintErr := q.maintainLocked()
	q.mu.Unlock()

	if q.mirror != nil {
		q.mirror.Emit(ctx, ev)
	}
	if maintErr != nil {
		q.log.Warn("telemetry queue maintenance failed", "path", q.cfg.QueueFile, "error", maintErr)
	}
	return maintErr
}

func (q *Queue) appendLocked(line []byte) error {
	path := q.cfg.QueueFile
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir queue dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write queue: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync queue: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close queue: %w", err)
	}
	return nil
}

func (q *Queue) maintainLocked() error {
	if err := q.rotateLocked(); err != nil {
		return fmt.Errorf("rotate queue: %w", err)
	}
	if err := q.pruneLocked(); err != nil {
		return fmt.Errorf("prune queue: %w", err)
	}
	return nil
}

// syncDir makes a rename in dir durable. Platforms that cannot fsync a
// directory report an error that is ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
