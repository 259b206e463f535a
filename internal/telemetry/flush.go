package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

const maxErrorBody = 4 << 10

// FlushOnce sends every queued record to the configured endpoint in a single
// POST and empties the queue file when the endpoint answers 2xx. It does
// nothing when telemetry is disabled, no URL is configured or the queue is
// empty. On any failure the file is left as it was; there are no retries.
//
// The queue lock is held across the request so that no event appended
// during delivery can be truncated away unsent.
func (q *Queue) FlushOnce(ctx context.Context) error {
	if !q.cfg.Enabled || q.cfg.URL == "" {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.readRecordsLocked()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	if err := q.post(ctx, encodeBatch(records)); err != nil {
		return err
	}

	if err := os.Truncate(q.cfg.QueueFile, 0); err != nil {
		return fmt.Errorf("truncate queue: %w", err)
	}
	q.log.Debug("telemetry queue flushed", "events", len(records))
	return nil
}

// readRecordsLocked returns every non-blank line of the queue file. A line
// that is not valid JSON fails the whole read.
func (q *Queue) readRecordsLocked() ([]json.RawMessage, error) {
	f, err := os.Open(q.cfg.QueueFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	var records []json.RawMessage
	n := 0
	err = forEachLine(f, func(line []byte) error {
		n++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return nil
		}
		if !json.Valid(line) {
			return &MalformedRecordError{Line: n}
		}
		records = append(records, json.RawMessage(bytes.Clone(line)))
		return nil
	})
	if err != nil {
		var mre *MalformedRecordError
		if errors.As(err, &mre) {
			return nil, err
		}
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return records, nil
}

// encodeBatch joins records into a JSON array without re-encoding them.
func encodeBatch(records []json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func (q *Queue) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+q.cfg.APIKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("post telemetry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}
