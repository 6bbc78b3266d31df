package dap

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/dapsync/pkg/config"
	"github.com/ajitpratap0/dapsync/pkg/errors"
)

const submissionsJSONL = `{"key":{"id":1},"value":{"score":90.5,"workflow_state":"graded"},"meta":{"action":"U","ts":"2024-03-01T12:00:00Z"}}
{"key":{"id":2},"meta":{"action":"D","ts":"2024-03-01T12:05:00Z"}}
`

type fakeAPI struct {
	t         *testing.T
	mux       *http.ServeMux
	server    *httptest.Server
	jobPolls  atomic.Int32
	tableHits atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{t: t, mux: http.NewServeMux()}
	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	f.mux.HandleFunc("/ids/auth/login", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{
			"access_token": "token-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	return f
}

func (f *fakeAPI) handle(pattern string, h http.HandlerFunc) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	})
}

func (f *fakeAPI) client(t *testing.T, secret string) *Client {
	cfg := config.APIConfig{
		BaseURL:         f.server.URL,
		ClientID:        "client",
		ClientSecret:    secret,
		RequestTimeout:  5 * time.Second,
		MaxRetries:      2,
		JobPollInterval: time.Millisecond,
		JobTimeout:      5 * time.Second,
	}
	return NewClient(cfg, zaptest.NewLogger(t), WithRetryInterval(time.Millisecond))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func gzipped(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestClient_GetTables(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/dap/query/canvas/table", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, map[string]interface{}{"tables": []string{"accounts", "users", "submissions"}})
	})

	tables, err := api.client(t, "secret").GetTables(context.Background(), "canvas")
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "users", "submissions"}, tables)
}

func TestClient_OpenBadCredentials(t *testing.T) {
	api := newFakeAPI(t)

	_, err := api.client(t, "wrong").Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestSession_GetTableSchema(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/dap/query/canvas/table/users/schema", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"version": 4,
			"schema":  map[string]interface{}{"type": "object"},
		})
	})

	sess, err := api.client(t, "secret").Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ts, err := sess.GetTableSchema(context.Background(), "canvas", "users")
	require.NoError(t, err)
	assert.Equal(t, int64(4), ts.Version)
	assert.JSONEq(t, `{"type":"object"}`, string(ts.Schema))
}

func TestSession_SnapshotRecords(t *testing.T) {
	api := newFakeAPI(t)
	at := time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC)

	api.handle("/dap/query/canvas/table/submissions/data", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jsonl", req.Format)
		assert.Nil(t, req.Since)
		writeJSON(w, Job{ID: "job-1", Status: JobStatusWaiting})
	})
	api.handle("/dap/job/job-1", func(w http.ResponseWriter, r *http.Request) {
		if api.jobPolls.Add(1) < 3 {
			writeJSON(w, Job{ID: "job-1", Status: JobStatusRunning})
			return
		}
		writeJSON(w, Job{
			ID:            "job-1",
			Status:        JobStatusComplete,
			Objects:       []Object{{ID: "obj-1"}},
			SchemaVersion: 2,
			At:            &at,
		})
	})
	api.handle("/dap/object/url", func(w http.ResponseWriter, r *http.Request) {
		var objs []Object
		require.NoError(t, json.NewDecoder(r.Body).Decode(&objs))
		require.Equal(t, []Object{{ID: "obj-1"}}, objs)
		writeJSON(w, map[string]interface{}{
			"urls": map[string]interface{}{"obj-1": map[string]string{"url": api.server.URL + "/download/obj-1"}},
		})
	})
	api.mux.HandleFunc("/download/obj-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "presigned downloads carry no token")
		_, _ = w.Write(gzipped(t, submissionsJSONL))
	})

	ctx := context.Background()
	sess, err := api.client(t, "secret").Open(ctx)
	require.NoError(t, err)
	defer sess.Close()

	job, err := sess.QuerySnapshot(ctx, "canvas", "submissions")
	require.NoError(t, err)
	assert.Equal(t, JobStatusComplete, job.Status)
	assert.Equal(t, int64(2), job.SchemaVersion)
	assert.GreaterOrEqual(t, api.jobPolls.Load(), int32(3))

	wm, ok := job.Watermark()
	require.True(t, ok)
	assert.True(t, wm.Equal(at))

	var records []*Record
	require.NoError(t, sess.ForEachRecord(ctx, job, func(r *Record) error {
		records = append(records, r)
		return nil
	}))
	require.Len(t, records, 2)
	assert.False(t, records[0].IsDelete())
	assert.JSONEq(t, `90.5`, string(records[0].Value["score"]))
	assert.True(t, records[1].IsDelete())
	assert.JSONEq(t, `2`, string(records[1].Key["id"]))
}

func TestSession_IncrementalSendsSince(t *testing.T) {
	api := newFakeAPI(t)
	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	api.handle("/dap/query/canvas/table/users/data", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Since)
		assert.True(t, req.Since.Equal(since))
		writeJSON(w, Job{ID: "job-2", Status: JobStatusComplete, Since: &since})
	})

	sess, err := api.client(t, "secret").Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	job, err := sess.QueryIncremental(context.Background(), "canvas", "users", since)
	require.NoError(t, err)
	assert.Equal(t, "job-2", job.ID)
	assert.Empty(t, job.Objects)
}

func TestSession_FailedJob(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/dap/query/canvas/table/users/data", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Job{ID: "job-3", Status: JobStatusFailed, Error: &JobError{Message: "table unavailable"}})
	})

	sess, err := api.client(t, "secret").Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.QuerySnapshot(context.Background(), "canvas", "users")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeJob))
	assert.Contains(t, err.Error(), "table unavailable")
}

func TestSession_RetriesTransientErrors(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/dap/query/canvas/table", func(w http.ResponseWriter, r *http.Request) {
		if api.tableHits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]interface{}{"tables": []string{"users"}})
	})

	tables, err := api.client(t, "secret").GetTables(context.Background(), "canvas")
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)
	assert.Equal(t, int32(2), api.tableHits.Load())
}

func TestSession_DoesNotRetryClientErrors(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/dap/query/nope/table", func(w http.ResponseWriter, r *http.Request) {
		api.tableHits.Add(1)
		http.NotFound(w, r)
	})

	_, err := api.client(t, "secret").GetTables(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Equal(t, int32(1), api.tableHits.Load())
}

func TestSession_GivesUpAfterMaxRetries(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/dap/query/canvas/table", func(w http.ResponseWriter, r *http.Request) {
		api.tableHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := api.client(t, "secret").GetTables(context.Background(), "canvas")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, int32(3), api.tableHits.Load())
}

func TestStreamObject_Plain(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(submissionsJSONL))
	})

	sess, err := api.client(t, "secret").Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	count := 0
	err = sess.streamObject(context.Background(), api.server.URL+"/plain", func(*Record) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
