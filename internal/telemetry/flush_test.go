package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinel-pii/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method      string
	contentType string
	auth        string
	body        []byte
}

func newCollector(t *testing.T, status int, respBody string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got = append(got, capturedRequest{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			body:        b,
		})
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), q.MakeEvent(types.SecretAWS, types.ActionBlocked, "Slack", "denylist-match")))
	}
}

func TestFlushOnce_Success(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK, "")
	q := newTestQueue(t, func(c *Config) {
		c.URL = srv.URL
		c.APIKey = "k-123"
	})
	enqueueN(t, q, 3)
	before := readLines(t, q.Path())

	require.NoError(t, q.FlushOnce(context.Background()))

	require.Len(t, *got, 1)
	req := (*got)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "application/json", req.contentType)
	assert.Equal(t, "Bearer k-123", req.auth)

	var batch []json.RawMessage
	require.NoError(t, json.Unmarshal(req.body, &batch))
	require.Len(t, batch, 3)
	for i := range batch {
		assert.JSONEq(t, before[i], string(batch[i]))
	}

	fi, err := os.Stat(q.Path())
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestFlushOnce_AcceptsAny2xx(t *testing.T) {
	srv, _ := newCollector(t, http.StatusCreated, `{"accepted":1}`)
	q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
	enqueueN(t, q, 1)

	require.NoError(t, q.FlushOnce(context.Background()))
	assert.Empty(t, readLines(t, q.Path()))
}

func TestFlushOnce_NoAPIKeyOmitsAuthorization(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK, "")
	q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
	enqueueN(t, q, 1)

	require.NoError(t, q.FlushOnce(context.Background()))
	require.Len(t, *got, 1)
	assert.Empty(t, (*got)[0].auth)
}

func TestFlushOnce_ServerErrorKeepsQueue(t *testing.T) {
	srv, got := newCollector(t, http.StatusInternalServerError, "boom\n")
	q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
	enqueueN(t, q, 2)
	before, err := os.ReadFile(q.Path())
	require.NoError(t, err)

	err = q.FlushOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelivery))

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusInternalServerError, de.StatusCode)
	assert.Equal(t, "boom", de.Body)
	assert.Len(t, *got, 1)

	after, err := os.ReadFile(q.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFlushOnce_TransportErrorKeepsQueue(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	q := newTestQueue(t, func(c *Config) { c.URL = url })
	enqueueN(t, q, 1)

	err := q.FlushOnce(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDelivery))
	assert.Len(t, readLines(t, q.Path()), 1)
}

func TestFlushOnce_MalformedLineSendsNothing(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK, "")
	q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
	good := eventLine(t, "a", fixedNow)
	writeQueue(t, q, good+"\n\n{not json\n"+good+"\n")

	err := q.FlushOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	var mre *MalformedRecordError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 3, mre.Line)
	assert.Empty(t, *got)
	assert.Len(t, readLines(t, q.Path()), 4)
}

func TestFlushOnce_NothingToDo(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	t.Run("disabled", func(t *testing.T) {
		q := newTestQueue(t, func(c *Config) {
			c.Enabled = false
			c.URL = srv.URL
		})
		writeQueue(t, q, eventLine(t, "a", fixedNow)+"\n")
		require.NoError(t, q.FlushOnce(context.Background()))
		assert.Len(t, readLines(t, q.Path()), 1)
	})
	t.Run("no url", func(t *testing.T) {
		q := newTestQueue(t, nil)
		writeQueue(t, q, eventLine(t, "a", fixedNow)+"\n")
		require.NoError(t, q.FlushOnce(context.Background()))
		assert.Len(t, readLines(t, q.Path()), 1)
	})
	t.Run("missing file", func(t *testing.T) {
		q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
		require.NoError(t, q.FlushOnce(context.Background()))
	})
	t.Run("empty file", func(t *testing.T) {
		q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
		writeQueue(t, q, "")
		require.NoError(t, q.FlushOnce(context.Background()))
	})
	t.Run("blank lines only", func(t *testing.T) {
		q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
		writeQueue(t, q, "\n  \n")
		require.NoError(t, q.FlushOnce(context.Background()))
	})

	assert.Zero(t, hits.Load())
}

func TestFlushOnce_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
	enqueueN(t, q, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.FlushOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, readLines(t, q.Path()), 1)
}

func TestFlushOnce_RedeliversAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, b)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := newTestQueue(t, func(c *Config) { c.URL = srv.URL })
	enqueueN(t, q, 2)

	require.Error(t, q.FlushOnce(context.Background()))
	enqueueN(t, q, 1)
	fail.Store(false)
	require.NoError(t, q.FlushOnce(context.Background()))

	require.Len(t, bodies, 2)
	var first, second []types.TelemetryEvent
	require.NoError(t, json.Unmarshal(bodies[0], &first))
	require.NoError(t, json.Unmarshal(bodies[1], &second))
	assert.Len(t, first, 2)
	assert.Len(t, second, 3)
	assert.Equal(t, first[0].EventID, second[0].EventID)
}

func TestEncodeBatch(t *testing.T) {
	assert.Equal(t, "[]", string(encodeBatch(nil)))
	assert.Equal(t, `[{"a":1},{"b":2}]`, string(encodeBatch([]json.RawMessage{
		json.RawMessage(`{"a":1}`), json.RawMessage(`{"b":2}`),
	})))
}
