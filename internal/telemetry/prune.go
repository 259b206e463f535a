package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
	"github.com/sentinel-pii/sentinel/pkg/types"
)

// PruneOldEvents drops queued events older than MaxAge. Lines that are not
// JSON or carry no parsable timestamp are kept; blank lines are dropped.
// It runs regardless of whether telemetry is enabled.
func (q *Queue) PruneOldEvents() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pruneLocked()
}

func (q *Queue) pruneLocked() error {
	path := q.cfg.QueueFile
	q.removeStaleTemps()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	cutoff := q.now().Add(-q.cfg.MaxAge)

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	dropped := 0
	err = forEachLine(f, func(line []byte) error {
		if len(bytes.TrimSpace(line)) == 0 {
			return nil
		}
		if !keepLine(line, cutoff) {
			dropped++
			return nil
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		return w.WriteByte('\n')
	})
	if err != nil {
		return fmt.Errorf("rewrite queue: %w", err)
	}
	_ = f.Close()
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	committed = true
	syncDir(filepath.Dir(path))

	if dropped > 0 {
		q.log.Debug("telemetry queue pruned", "path", path, "dropped", dropped)
	}
	return nil
}

// removeStaleTemps deletes <name>.*.tmp files left next to the queue by an
// interrupted prune or rotation. Callers hold q.mu.
func (q *Queue) removeStaleTemps() {
	dir := filepath.Dir(q.cfg.QueueFile)
	g, err := glob.Compile(glob.QuoteMeta(filepath.Base(q.cfg.QueueFile)) + ".*.tmp")
	if err != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !g.Match(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			q.log.Warn("remove stale queue temp file", "path", p, "error", err)
			continue
		}
		q.log.Debug("removed stale queue temp file", "path", p)
	}
}

type timestampOnly struct {
	Timestamp string `json:"timestamp"`
}

func keepLine(line []byte, cutoff time.Time) bool {
	var rec timestampOnly
	if err := json.Unmarshal(line, &rec); err != nil {
		return true
	}
	ts, err := types.TelemetryEvent{Timestamp: rec.Timestamp}.Time()
	if err != nil {
		return true
	}
	return !ts.Before(cutoff)
}

// forEachLine calls fn with each line of r, without its line terminator.
// A final line lacking a newline is still delivered.
func forEachLine(r io.Reader, fn func(line []byte) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
