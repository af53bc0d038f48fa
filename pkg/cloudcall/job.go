package cloudcall

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the state of an asynchronous job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// ErrJobTerminal is returned when a terminal job is advanced again.
var ErrJobTerminal = errors.New("job already reached a terminal state")

// IsTerminal reports whether no further polls are needed.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobInProgress:
		return 1
	case JobSucceeded, JobFailed:
		return 2
	default:
		return 0
	}
}

// JobError is the provider-supplied detail of a failed job.
type JobError struct {
	// Code is the provider error code, usually HTTP-like.
	Code int `json:"code,omitempty"`
	// Kind overrides the kind derived from Code.
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// StatusReport is one decoded status-check observation.
type StatusReport struct {
	Status JobStatus
	Result any
	Error  *JobError
}

// AsyncJob is the bookkeeping record of a tracked job.
type AsyncJob struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	Status      JobStatus `json:"status"`
	Result      any       `json:"result,omitempty"`
	ErrorDetail *JobError `json:"error,omitempty"`
	Polls       int       `json:"polls"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Tracker tells apart two trackers of the same job id.
	Tracker string `json:"tracker,omitempty"`
}

// RecordKey identifies the job's record in a job store.
func (j *AsyncJob) RecordKey() string {
	if j.Tracker == "" {
		return j.ID
	}

	return j.ID + "#" + j.Tracker
}

// NewAsyncJob starts tracking the job behind handle.
func NewAsyncJob(handle *JobHandle, now time.Time) *AsyncJob {
	return &AsyncJob{
		ID:          handle.ID,
		Operation:   handle.Operation,
		Status:      JobPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// Advance records a poll. Status never moves backwards: a Pending report
// after InProgress keeps InProgress. Advancing a terminal job fails.
func (j *AsyncJob) Advance(report StatusReport, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobTerminal, j.ID, j.Status)
	}

	j.Polls++
	j.UpdatedAt = now

	if report.Status.rank() >= j.Status.rank() {
		j.Status = report.Status
	}

	switch j.Status {
	case JobSucceeded:
		j.Result = report.Result
	case JobFailed:
		j.ErrorDetail = report.Error
	case JobPending, JobInProgress:
	}

	return nil
}

// Elapsed is the time since submission.
func (j *AsyncJob) Elapsed(now time.Time) time.Duration {
	return now.Sub(j.SubmittedAt)
}
