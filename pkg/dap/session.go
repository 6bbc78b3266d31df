package dap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// maxErrorBody bounds how much of an error response is kept in the error.
const maxErrorBody = 512

// Session is an authenticated connection to the query API.
type Session struct {
	client   *Client
	api      *http.Client
	download *http.Client
}

// Close releases idle connections held by the session.
func (s *Session) Close() {
	s.api.CloseIdleConnections()
	s.download.CloseIdleConnections()
}

// GetTables lists the tables available in a namespace, in API order.
func (s *Session) GetTables(ctx context.Context, namespace string) ([]string, error) {
	var resp tablesResponse
	path := "/dap/query/" + url.PathEscape(namespace) + "/table"
	if err := s.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to list tables").
			WithDetail("namespace", namespace)
	}
	return resp.Tables, nil
}

// GetTableSchema returns the current schema document of a table.
func (s *Session) GetTableSchema(ctx context.Context, namespace, table string) (*TableSchema, error) {
	var resp TableSchema
	if err := s.call(ctx, http.MethodGet, tablePath(namespace, table)+"/schema", nil, &resp); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to get table schema").
			WithDetail("namespace", namespace).
			WithDetail("table", table)
	}
	return &resp, nil
}

// QuerySnapshot runs a full export job for a table and waits for it to complete.
func (s *Session) QuerySnapshot(ctx context.Context, namespace, table string) (*Job, error) {
	return s.query(ctx, namespace, table, queryRequest{Format: "jsonl"})
}

// QueryIncremental runs an export of the changes to a table since the given
// time and waits for it to complete.
func (s *Session) QueryIncremental(ctx context.Context, namespace, table string, since time.Time) (*Job, error) {
	since = since.UTC()
	return s.query(ctx, namespace, table, queryRequest{Format: "jsonl", Since: &since})
}

func (s *Session) query(ctx context.Context, namespace, table string, req queryRequest) (*Job, error) {
	var job Job
	if err := s.call(ctx, http.MethodPost, tablePath(namespace, table)+"/data", req, &job); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to submit export job").
			WithDetail("namespace", namespace).
			WithDetail("table", table)
	}

	s.client.logger.Debug("submitted export job",
		zap.String("namespace", namespace),
		zap.String("table", table),
		zap.String("job_id", job.ID),
		zap.Bool("incremental", req.Since != nil))

	return s.AwaitJob(ctx, &job)
}

// AwaitJob polls a job until it reaches a terminal state. Polling backs off
// exponentially from the configured poll interval and gives up after the
// configured job timeout.
func (s *Session) AwaitJob(ctx context.Context, job *Job) (*Job, error) {
	if job.Status.Terminal() {
		return checkJob(job)
	}

	b := backoff.NewExponentialBackOff()
	if s.client.cfg.JobPollInterval > 0 {
		b.InitialInterval = s.client.cfg.JobPollInterval
	}
	b.MaxInterval = time.Minute
	b.RandomizationFactor = 0

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if s.client.cfg.JobTimeout > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(s.client.cfg.JobTimeout))
	}

	id := job.ID
	done, err := backoff.Retry(ctx, func() (*Job, error) {
		var current Job
		if err := s.call(ctx, http.MethodGet, "/dap/job/"+url.PathEscape(id), nil, &current); err != nil {
			return nil, backoff.Permanent(err)
		}
		if !current.Status.Terminal() {
			return nil, errors.Newf(errors.ErrorTypeTimeout, "job %s is %s", id, current.Status)
		}
		return &current, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "export job did not complete").
			WithDetail("job_id", id)
	}
	return checkJob(done)
}

func checkJob(job *Job) (*Job, error) {
	if job.Status == JobStatusFailed {
		msg := "export job failed"
		if job.Error != nil && job.Error.Message != "" {
			msg = "export job failed: " + job.Error.Message
		}
		return nil, errors.New(errors.ErrorTypeJob, msg).WithDetail("job_id", job.ID)
	}
	return job, nil
}

// ResolveObjectURLs returns presigned download URLs in the order of objects.
func (s *Session) ResolveObjectURLs(ctx context.Context, objects []Object) ([]string, error) {
	if len(objects) == 0 {
		return nil, nil
	}

	var resp objectURLsResponse
	if err := s.call(ctx, http.MethodPost, "/dap/object/url", objects, &resp); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to resolve object URLs")
	}

	urls := make([]string, 0, len(objects))
	for _, obj := range objects {
		u, ok := resp.URLs[obj.ID]
		if !ok || u.URL == "" {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "no download URL for object %s", obj.ID)
		}
		urls = append(urls, u.URL)
	}
	return urls, nil
}

// ForEachRecord downloads every object of a completed job and calls fn for
// each record in file order. Returning an error from fn stops the iteration.
func (s *Session) ForEachRecord(ctx context.Context, job *Job, fn func(*Record) error) error {
	urls, err := s.ResolveObjectURLs(ctx, job.Objects)
	if err != nil {
		return err
	}
	for _, u := range urls {
		if err := s.streamObject(ctx, u, fn); err != nil {
			return err
		}
	}
	return nil
}

// streamObject reads one JSONL object, gunzipping it when compressed.
func (s *Session) streamObject(ctx context.Context, objectURL string, fn func(*Record) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid object URL")
	}
	resp, err := s.download.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to download object")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	br := bufio.NewReader(resp.Body)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "invalid gzip object")
		}
		defer gz.Close()
		r = gz
	}

	dec := json.NewDecoder(r)
	line := 0
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, errors.ErrorTypeData, "invalid record").WithDetail("record", line)
		}
		line++
		if err := fn(&rec); err != nil {
			return err
		}
	}
}

// call performs one API request, retrying transient failures with backoff.
func (s *Session) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode request")
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.client.retryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.do(ctx, method, path, body, out)
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		var e *errors.Error
		if errors.As(err, &e) {
			if secs, ok := e.Details["retry_after"].(int); ok && secs > 0 {
				return struct{}{}, backoff.RetryAfter(secs)
			}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.client.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.client.logger.Warn("retrying API request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("backoff", d),
				zap.Error(err))
		}),
	)
	return err
}

func (s *Session) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.client.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.api.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled")
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "invalid response body")
	}
	return nil
}

// statusError maps a non-success HTTP response to an error category.
func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))

	var errType errors.ErrorType
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		errType = errors.ErrorTypeAuthentication
	case resp.StatusCode == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e := errors.New(errors.ErrorTypeRateLimit, msg)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			e.WithDetail("retry_after", secs)
		}
		return e
	case resp.StatusCode >= 500:
		errType = errors.ErrorTypeConnection
	default:
		errType = errors.ErrorTypeValidation
	}
	return errors.New(errType, msg).WithDetail("status", resp.StatusCode)
}

func tablePath(namespace, table string) string {
	return "/dap/query/" + url.PathEscape(namespace) + "/table/" + url.PathEscape(table)
}
