package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/voxbridge/voicerelay/internal/core/domain"
)

const (
	defaultForwardTimeout = 60 * time.Second
	maxResponseBytes      = 32 << 20

	forwardFilename  = "recording.ogg"
	forwardAudioMime = "audio/ogg"
)

// RelaySettings resolves the process-wide default webhook URL. Implemented
// by the runtime settings store.
type RelaySettings interface {
	WebhookURL() string
}

// JobHistory records transitions for later inspection. May be nil.
type JobHistory interface {
	RecordJobEvent(ctx context.Context, ev domain.JobEvent) error
}

// Relay accepts inbound recordings, hands them to the external automation
// endpoint and settles the job when the answer arrives — via the synchronous
// response or via the callback URL, whichever lands first.
type Relay struct {
	logger   *slog.Logger
	registry *JobRegistry
	bus      *EventBus
	history  JobHistory
	settings RelaySettings
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	origin   string
	timeout  time.Duration
}

func NewRelay(
	logger *slog.Logger,
	registry *JobRegistry,
	bus *EventBus,
	history JobHistory,
	settings RelaySettings,
	origin string,
	timeout time.Duration,
) *Relay {
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 100,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &Relay{
		logger:   logger,
		registry: registry,
		bus:      bus,
		history:  history,
		settings: settings,
		client: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
		origin:  strings.TrimRight(origin, "/"),
		timeout: timeout,
	}
}

// Submit validates the recording, creates a job and launches the detached
// forwarding goroutine. It returns the pending job immediately; the caller
// never waits on the external endpoint.
func (r *Relay) Submit(req domain.RelayRequest) (domain.Job, error) {
	if len(req.Audio) == 0 {
		return domain.Job{}, domain.ErrEmptyPayload
	}

	job := r.registry.Create()
	r.record(job.ID, domain.JobStatusPending, "job created")

	go r.forward(job.ID, req)

	return job, nil
}

// CallbackURL returns the completion address handed to the external
// endpoint for a job.
func (r *Relay) CallbackURL(id domain.JobID) string {
	return fmt.Sprintf("%s/v1/jobs/%s/complete", r.origin, id)
}

// forward runs detached from the inbound request. Every exit path ends in a
// terminal job update; nothing propagates back to the original caller.
func (r *Relay) forward(id domain.JobID, req domain.RelayRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.transition(id, domain.JobStatusProcessing, "forwarding to webhook")

	target := req.WebhookURL
	if target == "" && r.settings != nil {
		target = r.settings.WebhookURL()
	}
	if target == "" {
		r.Fail(id, domain.ErrNoWebhookURL.Error())
		return
	}

	body, contentType, err := buildForwardBody(id, req, r.CallbackURL(id))
	if err != nil {
		r.Fail(id, fmt.Sprintf("build forward request: %v", err))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		r.Fail(id, fmt.Sprintf("invalid webhook URL: %v", err))
		return
	}
	httpReq.Header.Set("Content-Type", contentType)

	res, err := r.breaker.Execute(func() (any, error) {
		return r.client.Do(httpReq)
	})
	if err != nil {
		r.Fail(id, err.Error())
		return
	}
	resp := res.(*http.Response)
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		r.Fail(id, fmt.Sprintf("read webhook response: %v", err))
		return
	}

	if _, err := r.Apply(id, resp.StatusCode, resp.Header.Get("Content-Type"), payload); err != nil {
		// Job already swept; the outcome has nowhere to land.
		r.logger.Warn("webhook response for unknown job", "job_id", id, "error", err)
	}
}

// Apply settles a job from an external response, whether it arrived on the
// synchronous path or through the completion callback. Safe to call twice
// for the same job: the registry keeps terminal states sticky.
func (r *Relay) Apply(id domain.JobID, statusCode int, contentType string, body []byte) (domain.Job, error) {
	norm := Normalize(contentType, body)

	// A non-success status is only recoverable when the headers themselves
	// declared audio; an embedded payload inside an error body is not trusted.
	if norm.Class != ClassBinaryAudio && (statusCode < 200 || statusCode > 299) {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("webhook status %d", statusCode)
		}
		return r.Fail(id, msg)
	}

	switch norm.Class {
	case ClassBinaryAudio, ClassEmbeddedAudio:
		return r.complete(id, &domain.JobResult{
			Kind:     domain.ResultKindBinaryAudio,
			MimeType: norm.MimeType,
			Audio:    norm.Audio,
		})
	default:
		return r.complete(id, &domain.JobResult{
			Kind:     domain.ResultKindText,
			Text:     norm.Text,
			MimeType: norm.MimeType,
		})
	}
}

func (r *Relay) complete(id domain.JobID, result *domain.JobResult) (domain.Job, error) {
	status := domain.JobStatusCompleted
	job, err := r.registry.Update(id, domain.JobUpdate{Status: &status, Result: result})
	if err != nil {
		return domain.Job{}, err
	}

	r.logger.Info("job completed", "job_id", id, "result_kind", result.Kind, "mime_type", result.MimeType)
	r.record(id, job.Status, string(result.Kind))
	r.publish(job)
	return job, nil
}

// Fail marks the job failed with the captured cause. Like complete, it is a
// no-op on a job that already reached a terminal state.
func (r *Relay) Fail(id domain.JobID, cause string) (domain.Job, error) {
	status := domain.JobStatusFailed
	job, err := r.registry.Update(id, domain.JobUpdate{Status: &status, Error: &cause})
	if err != nil {
		r.logger.Warn("failure for unknown job", "job_id", id, "cause", cause)
		return domain.Job{}, err
	}

	r.logger.Error("job failed", "job_id", id, "cause", cause)
	r.record(id, job.Status, cause)
	r.publish(job)
	return job, nil
}

func (r *Relay) transition(id domain.JobID, status domain.JobStatus, detail string) {
	job, err := r.registry.Update(id, domain.JobUpdate{Status: &status})
	if err != nil {
		return
	}
	r.record(id, status, detail)
	r.publish(job)
}

func (r *Relay) publish(job domain.Job) {
	payload := map[string]any{
		"jobId":  string(job.ID),
		"status": string(job.Status),
	}
	if job.Error != nil {
		payload["error"] = *job.Error
	}
	data, _ := json.Marshal(payload)

	r.bus.Publish(Event{
		JobID:     string(job.ID),
		Type:      EventTypeStatus,
		Data:      string(data),
		Timestamp: job.UpdatedAt.UnixMilli(),
	})
}

func (r *Relay) record(id domain.JobID, status domain.JobStatus, detail string) {
	if r.history == nil {
		return
	}
	ev := domain.JobEvent{
		ID:        uuid.New().String(),
		JobID:     id,
		Status:    string(status),
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := r.history.RecordJobEvent(context.Background(), ev); err != nil {
		r.logger.Warn("failed to record job event", "job_id", id, "error", err)
	}
}

// buildForwardBody assembles the multipart form sent to the webhook: the
// recording plus correlation fields, the job ID and the callback URL.
func buildForwardBody(id domain.JobID, req domain.RelayRequest, callbackURL string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	audioMime := req.ContentType
	if audioMime == "" {
		audioMime = forwardAudioMime
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, forwardFilename))
	header.Set("Content-Type", audioMime)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}

	fields := []struct{ name, value string }{
		{"sessionId", req.SessionID},
		{"userId", req.UserID},
		{"phone", req.Phone},
		{"msg_type", "audio"},
		{"jobId", string(id)},
		{"callbackUrl", callbackURL},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
