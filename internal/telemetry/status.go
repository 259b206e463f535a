package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sentinel-pii/sentinel/pkg/types"
)

// Status summarises the queue file and its archives.
type Status struct {
	Path      string   `json:"path"`
	Enabled   bool     `json:"enabled"`
	Exists    bool     `json:"exists"`
	SizeBytes int64    `json:"size_bytes"`
	Events    int      `json:"events"`
	Malformed int      `json:"malformed"`
	Oldest    string   `json:"oldest,omitempty"`
	Newest    string   `json:"newest,omitempty"`
	Archives  []string `json:"archives"`
}

func (q *Queue) Status() (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{Path: q.cfg.QueueFile, Enabled: q.cfg.Enabled}

	archives, err := q.archives()
	if err != nil {
		return st, err
	}
	st.Archives = archives

	f, err := os.Open(q.cfg.QueueFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return st, fmt.Errorf("stat queue: %w", err)
	}
	st.Exists = true
	st.SizeBytes = fi.Size()

	err = forEachLine(f, func(line []byte) error {
		if len(bytes.TrimSpace(line)) == 0 {
			return nil
		}
		var ev types.TelemetryEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			st.Malformed++
			return nil
		}
		st.Events++
		if _, err := ev.Time(); err != nil {
			return nil
		}
		// Fixed-width timestamps compare lexically.
		if st.Oldest == "" || ev.Timestamp < st.Oldest {
			st.Oldest = ev.Timestamp
		}
		if ev.Timestamp > st.Newest {
			st.Newest = ev.Timestamp
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("read queue: %w", err)
	}
	return st, nil
}

// Archives lists rotated queue files, oldest first.
func (q *Queue) Archives() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.archives()
}

func (q *Queue) archives() ([]string, error) {
	dir := filepath.Dir(q.cfg.QueueFile)
	stem := queueStem(q.cfg.QueueFile)
	g, err := glob.Compile(glob.QuoteMeta(stem) + ".[0-9]*.old")
	if err != nil {
		return nil, fmt.Errorf("compile archive pattern: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list queue dir: %w", err)
	}
	out := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !g.Match(name) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, stem+"."), ".old")
		if !isArchiveStamp(stamp) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// isArchiveStamp reports whether s is a YYYYmmddHHMMSS timestamp with an
// optional -N collision suffix.
func isArchiveStamp(s string) bool {
	ts, n, hasN := strings.Cut(s, "-")
	if len(ts) != len(archiveTimeLayout) || !allDigits(ts) {
		return false
	}
	return !hasN || (n != "" && allDigits(n))
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
