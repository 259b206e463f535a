// Package collector is a development ingest server for the telemetry
// protocol. It accepts the batches agents flush, validates and de-duplicates
// them, and answers simple aggregate queries.
package collector

import (
	"bufio"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinel-pii/sentinel/internal/metrics"
	"github.com/sentinel-pii/sentinel/pkg/types"
)

const (
	DefaultMaxBodyBytes = 8 << 20
	topAppsLimit        = 10
)

type Config struct {
	// Output receives accepted events as JSON lines. Empty keeps them in
	// memory only.
	Output string

	// APIKeyHashes are hex SHA-256 digests of accepted bearer tokens.
	// Empty disables authentication.
	APIKeyHashes []string

	// Kinds lists the accepted secret_type values.
	Kinds []types.SecretKind

	MaxBodyBytes int64
}

type Option func(*Server)

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

type Server struct {
	cfg       Config
	keyHashes [][]byte
	kinds     map[types.SecretKind]bool

	now     func() time.Time
	metrics *metrics.Collector
	log     *slog.Logger

	mu     sync.Mutex
	events []stored
	seen   map[string]struct{}
}

type stored struct {
	at  time.Time
	app *string
}

// New builds a server and replays any events already present in Output so
// that de-duplication survives restarts.
func New(cfg Config, opts ...Option) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = []types.SecretKind{types.SecretAWS, types.SecretStripe}
	}

	s := &Server{
		cfg:   cfg,
		kinds: make(map[types.SecretKind]bool, len(cfg.Kinds)),
		now:   time.Now,
		log:   slog.Default(),
		seen:  make(map[string]struct{}),
	}
	for _, k := range cfg.Kinds {
		s.kinds[k] = true
	}
	for i, h := range cfg.APIKeyHashes {
		h = strings.ToLower(strings.TrimSpace(h))
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("api_key_hashes[%d]: not a hex sha256 digest", i)
		}
		s.keyHashes = append(s.keyHashes, b)
	}
	for _, o := range opts {
		o(s)
	}

	if cfg.Output != "" {
		if err := s.replay(cfg.Output); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// HashAPIKey returns the digest form stored in api_key_hashes.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *Server) authRequired() bool { return len(s.keyHashes) > 0 }

func (s *Server) keyAllowed(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	ok := 0
	for _, h := range s.keyHashes {
		ok |= subtle.ConstantTimeCompare(sum[:], h)
	}
	return ok == 1
}

// ValidationError describes the first invalid event in a batch.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %d: %s", e.Index, e.Reason)
}

func (s *Server) validate(i int, ev *types.TelemetryEvent) error {
	if ev.Timestamp == "" {
		return &ValidationError{Index: i, Reason: "timestamp is required"}
	}
	if _, err := ev.Time(); err != nil {
		return &ValidationError{Index: i, Reason: "timestamp is not RFC 3339"}
	}
	if !s.kinds[ev.SecretType] {
		return &ValidationError{Index: i, Reason: fmt.Sprintf("unknown secret_type %q", ev.SecretType)}
	}
	if !ev.Action.IsValid() {
		return &ValidationError{Index: i, Reason: fmt.Sprintf("unknown action %q", ev.Action)}
	}
	if ev.EventID != "" {
		if _, err := uuid.Parse(ev.EventID); err != nil {
			return &ValidationError{Index: i, Reason: "event_id is not a uuid"}
		}
	}
	return nil
}

// IngestResult reports how a batch was handled.
type IngestResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// Ingest validates the whole batch before storing any of it. Events whose
// event_id was already seen are counted as duplicates and skipped. Events
// without an id are assigned one.
func (s *Server) Ingest(batch []types.TelemetryEvent) (IngestResult, error) {
	for i := range batch {
		if err := s.validate(i, &batch[i]); err != nil {
			s.metrics.IncCollectorEvents("rejected", len(batch))
			return IngestResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res IngestResult
	fresh := make([]types.TelemetryEvent, 0, len(batch))
	batchSeen := make(map[string]struct{}, len(batch))
	for _, ev := range batch {
		if ev.EventID == "" {
			ev.EventID = uuid.NewString()
		} else {
			_, dup := s.seen[ev.EventID]
			_, dupInBatch := batchSeen[ev.EventID]
			if dup || dupInBatch {
				res.Duplicates++
				continue
			}
		}
		batchSeen[ev.EventID] = struct{}{}
		fresh = append(fresh, ev)
	}

	if s.cfg.Output != "" && len(fresh) > 0 {
		if err := appendJSONL(s.cfg.Output, fresh); err != nil {
			return IngestResult{}, err
		}
	}
	for _, ev := range fresh {
		s.remember(ev)
	}
	res.Accepted = len(fresh)

	s.metrics.IncCollectorEvents("accepted", res.Accepted)
	s.metrics.IncCollectorEvents("duplicate", res.Duplicates)
	return res, nil
}

func (s *Server) remember(ev types.TelemetryEvent) {
	s.seen[ev.EventID] = struct{}{}
	at, _ := ev.Time()
	s.events = append(s.events, stored{at: at, app: ev.AppName})
}

// AppCount is one row of Stats.TopApps. A nil App groups events recorded
// without an application name.
type AppCount struct {
	App   *string `json:"app"`
	Count int     `json:"count"`
}

type Stats struct {
	Count24h int        `json:"count_24h"`
	TopApps  []AppCount `json:"top_apps"`
}

// Stats counts events in the last 24 hours and ranks applications over the
// last 7 days.
func (s *Server) Stats() Stats {
	now := s.now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TopApps: []AppCount{}}
	counts := map[string]*AppCount{}
	for _, ev := range s.events {
		if !ev.at.Before(dayAgo) {
			st.Count24h++
		}
		if ev.at.Before(weekAgo) {
			continue
		}
		key := "\x00"
		if ev.app != nil {
			key = *ev.app
		}
		c, ok := counts[key]
		if !ok {
			c = &AppCount{App: ev.app}
			counts[key] = c
		}
		c.Count++
	}
	for _, c := range counts {
		st.TopApps = append(st.TopApps, *c)
	}
	sort.Slice(st.TopApps, func(i, j int) bool {
		a, b := st.TopApps[i], st.TopApps[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return types.Deref(a.App) < types.Deref(b.App)
	})
	if len(st.TopApps) > topAppsLimit {
		st.TopApps = st.TopApps[:topAppsLimit]
	}
	return st
}

func appendJSONL(path string, events []types.TelemetryEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			_ = f.Close()
			return fmt.Errorf("write output: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	return f.Close()
}

func (s *Server) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	skipped := 0
	for sc.Scan() {
		var ev types.TelemetryEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.EventID == "" {
			skipped++
			continue
		}
		s.remember(ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read output: %w", err)
	}
	s.log.Info("collector replayed output", "path", path, "events", len(s.events), "skipped", skipped)
	return nil
}
