package telemetry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const archiveTimeLayout = "20060102150405"

// RotateIfNeeded archives the queue file once it grows past MaxQueueBytes
// and leaves an empty file in its place. A missing file is not an error.
// It runs regardless of whether telemetry is enabled.
func (q *Queue) RotateIfNeeded() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rotateLocked()
}

func (q *Queue) rotateLocked() error {
	path := q.cfg.QueueFile
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat queue: %w", err)
	}
	if st.Size() <= q.cfg.MaxQueueBytes {
		return nil
	}

	archive, err := q.nextArchivePath()
	if err != nil {
		return err
	}

	// Readers of path see either the full old file or an empty one.
	if err := os.Link(path, archive); err == nil {
		if err := replaceWithEmpty(path); err != nil {
			return err
		}
	} else {
		if err := os.Rename(path, archive); err != nil {
			return fmt.Errorf("archive queue: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
		if err != nil {
			return fmt.Errorf("recreate queue: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("recreate queue: %w", err)
		}
	}
	syncDir(filepath.Dir(path))

	q.log.Info("telemetry queue rotated", "path", path, "archive", archive, "size", st.Size())
	return nil
}

func replaceWithEmpty(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create empty queue: %w", err)
	}
	name := tmp.Name()
	if err := tmp.Chmod(fileMode); err != nil && !errors.Is(err, fs.ErrPermission) {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("chmod empty queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close empty queue: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}

// nextArchivePath names the archive <stem>.<YYYYmmddHHMMSS>.old next to the
// queue file, adding -N when that name is already taken.
func (q *Queue) nextArchivePath() (string, error) {
	dir := filepath.Dir(q.cfg.QueueFile)
	stem := queueStem(q.cfg.QueueFile)
	ts := q.now().UTC().Format(archiveTimeLayout)

	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("%s.%s.old", stem, ts)
		if i > 0 {
			name = fmt.Sprintf("%s.%s-%d.old", stem, ts, i)
		}
		p := filepath.Join(dir, name)
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no free archive name for %s at %s", stem, ts)
}

// queueStem is the queue file name without its extension.
func queueStem(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}
