package domain

import "time"

// JobStatus enumerates async job lifecycle states.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusPending   JobStatus = "pending"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusUnknown is only ever observed by a caller while polling; it is
	// never written to the ledger.
	JobStatusUnknown JobStatus = "unknown"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusSubmitted:
		return 1
	case JobStatusPending:
		return 2
	case JobStatusSucceeded, JobStatusFailed:
		return 3
	default:
		return 0
	}
}

// CanAdvance reports whether a job may move from s to next. Transitions only go
// forward and terminal states never change.
func (s JobStatus) CanAdvance(next JobStatus) bool {
	if next == JobStatusUnknown || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// AsyncJob is the handle for an asynchronously submitted request. The three
// locations are fixed at submission time.
type AsyncJob struct {
	ID              string    `json:"job_id"`
	InputLocation   string    `json:"input_location"`
	OutputLocation  string    `json:"output_location"`
	FailureLocation string    `json:"failure_location"`
	Status          JobStatus `json:"status"`
	Subject         string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FailureDetail is the parsed content of a job's failure object.
type FailureDetail struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}
