package domain

import (
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// rank orders statuses along the allowed transition path:
// pending → processing → completed|failed
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a forward move.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

type ResultKind string

const (
	ResultKindText        ResultKind = "text"
	ResultKindBinaryAudio ResultKind = "binaryAudio"
)

// JobResult is the canonical outcome of a relayed recording: either a text
// reply or a binary audio clip with its mime type.
type JobResult struct {
	Kind     ResultKind `json:"kind"`
	Text     string     `json:"text,omitempty"`
	MimeType string     `json:"mimeType,omitempty"`
	Audio    []byte     `json:"audio,omitempty"`
}

// Job is the unit of asynchronous relay work. Records are owned by the
// registry; everything handed out is a snapshot.
type Job struct {
	ID        JobID      `json:"id"`
	Status    JobStatus  `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Error     *string    `json:"error,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
}

// JobUpdate is a partial mutation applied through the registry. Nil fields
// are left untouched.
type JobUpdate struct {
	Status *JobStatus
	Error  *string
	Result *JobResult
}

// RelayRequest carries an inbound recording and its correlation metadata.
type RelayRequest struct {
	Audio       []byte
	ContentType string
	SessionID   string
	UserID      string
	Phone       string
	// WebhookURL overrides the configured destination for this request only.
	WebhookURL string
}

// JobEventSwept marks a history entry for a record evicted by the sweeper.
// Not a job status; swept jobs simply cease to exist.
const JobEventSwept = "swept"

// JobEvent is one recorded transition in a job's history.
type JobEvent struct {
	ID        string    `json:"id"`
	JobID     JobID     `json:"jobId"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrEmptyPayload = errors.New("audio payload required")
	ErrNoWebhookURL = errors.New("webhook URL not configured")
)
