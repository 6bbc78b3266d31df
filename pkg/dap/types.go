package dap

import (
	"time"

	"github.com/goccy/go-json"
)

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	JobStatusWaiting  JobStatus = "waiting"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the job will not change state any more.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Object identifies one downloadable result file of a job.
type Object struct {
	ID string `json:"id"`
}

// JobError is the failure detail attached to a failed job.
type JobError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Job is an export job for one table.
type Job struct {
	ID            string     `json:"id"`
	Status        JobStatus  `json:"status"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Objects       []Object   `json:"objects,omitempty"`
	SchemaVersion int64      `json:"schema_version,omitempty"`
	// At is the consistency point of a snapshot job.
	At *time.Time `json:"at,omitempty"`
	// Since and Until bound an incremental job.
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
	Error *JobError  `json:"error,omitempty"`
}

// Watermark returns the point in time the job's data is consistent with.
func (j *Job) Watermark() (time.Time, bool) {
	switch {
	case j.Until != nil:
		return *j.Until, true
	case j.At != nil:
		return *j.At, true
	default:
		return time.Time{}, false
	}
}

// Record actions.
const (
	ActionUpsert = "U"
	ActionDelete = "D"
)

// RecordMeta is the change metadata of a record.
type RecordMeta struct {
	Action string     `json:"action,omitempty"`
	Ts     *time.Time `json:"ts,omitempty"`
}

// Record is one line of a JSONL export object.
type Record struct {
	Key   map[string]json.RawMessage `json:"key"`
	Value map[string]json.RawMessage `json:"value,omitempty"`
	Meta  RecordMeta                 `json:"meta"`
}

// IsDelete reports whether the record removes its key.
func (r *Record) IsDelete() bool {
	return r.Meta.Action == ActionDelete
}

// TableSchema is the raw schema document of a table.
type TableSchema struct {
	Schema  json.RawMessage `json:"schema"`
	Version int64           `json:"version"`
}

type tablesResponse struct {
	Tables []string `json:"tables"`
}

type queryRequest struct {
	Format string     `json:"format"`
	Since  *time.Time `json:"since,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
}

type objectURL struct {
	URL string `json:"url"`
}

type objectURLsResponse struct {
	URLs map[string]objectURL `json:"urls"`
}
