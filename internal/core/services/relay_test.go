package services

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridge/voicerelay/internal/core/domain"
)

type fakeSettings struct {
	url string
}

func (f *fakeSettings) WebhookURL() string { return f.url }

type memHistory struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (h *memHistory) RecordJobEvent(_ context.Context, ev domain.JobEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *memHistory) statuses(id domain.JobID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, ev := range h.events {
		if ev.JobID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

func newTestRelay(t *testing.T, webhookURL string) (*Relay, *JobRegistry, *memHistory) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	registry := NewJobRegistry(logger)
	bus := NewEventBus(logger)
	history := &memHistory{}
	relay := NewRelay(logger, registry, bus, history, &fakeSettings{url: webhookURL}, "http://relay.test", 2*time.Second)
	return relay, registry, history
}

func waitForTerminal(t *testing.T, registry *JobRegistry, id domain.JobID) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = registry.Get(id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond, "job never reached a terminal state")
	return job
}

func TestRelay_RejectsEmptyPayload(t *testing.T) {
	relay, registry, _ := newTestRelay(t, "http://example.com/hook")

	_, err := relay.Submit(domain.RelayRequest{})
	assert.ErrorIs(t, err, domain.ErrEmptyPayload)
	assert.Equal(t, 0, registry.Len())
}

func TestRelay_SubmitReturnsPendingImmediately(t *testing.T) {
	// The webhook stalls; Submit must still return right away.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("done"))
	}))
	defer srv.Close()
	defer close(release)

	relay, registry, _ := newTestRelay(t, srv.URL)

	start := time.Now()
	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	got, err := registry.Get(job.ID)
	require.NoError(t, err)
	assert.False(t, got.Status.Terminal())
}

func TestRelay_MissingWebhookURLFailsFast(t *testing.T) {
	relay, registry, history := newTestRelay(t, "")

	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "not configured")
	assert.Nil(t, final.Result)

	// pending → processing → failed, all recorded.
	assert.Equal(t, []string{"pending", "processing", "failed"}, history.statuses(job.ID))
}

func TestRelay_ForwardsMultipartAndCompletesWithAudio(t *testing.T) {
	audioBody := bytes.Repeat([]byte{0x42}, 1024)

	type received struct {
		sessionID, userID, phone, msgType, jobID, callbackURL string
		filename, fileMime                                    string
	}
	var mu sync.Mutex
	var got received

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(8<<20))
		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		file.Close()

		mu.Lock()
		got = received{
			sessionID:   r.FormValue("sessionId"),
			userID:      r.FormValue("userId"),
			phone:       r.FormValue("phone"),
			msgType:     r.FormValue("msg_type"),
			jobID:       r.FormValue("jobId"),
			callbackURL: r.FormValue("callbackUrl"),
			filename:    header.Filename,
			fileMime:    header.Header.Get("Content-Type"),
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "audio/ogg")
		w.Write(audioBody)
	}))
	defer srv.Close()

	relay, registry, _ := newTestRelay(t, srv.URL)

	job, err := relay.Submit(domain.RelayRequest{
		Audio:     []byte("fake-ogg-bytes"),
		SessionID: "sess-1",
		UserID:    "user-1",
		Phone:     "+5511999999999",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, domain.ResultKindBinaryAudio, final.Result.Kind)
	assert.Equal(t, "audio/ogg", final.Result.MimeType)
	assert.Len(t, final.Result.Audio, 1024)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "sess-1", got.sessionID)
	assert.Equal(t, "user-1", got.userID)
	assert.Equal(t, "+5511999999999", got.phone)
	assert.Equal(t, "audio", got.msgType)
	assert.Equal(t, string(job.ID), got.jobID)
	assert.Equal(t, "http://relay.test/v1/jobs/"+string(job.ID)+"/complete", got.callbackURL)
	assert.Equal(t, "recording.ogg", got.filename)
	assert.Equal(t, "audio/ogg", got.fileMime) // default when the upload had no type
}

func TestRelay_PerRequestOverrideWins(t *testing.T) {
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from override"))
	}))
	defer override.Close()

	// Configured default would fail; the override must be used instead.
	relay, registry, _ := newTestRelay(t, "http://127.0.0.1:1/unreachable")

	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg"), WebhookURL: override.URL})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, "from override", final.Result.Text)
}

func TestRelay_JSONEmbeddedAudioResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audioBase64": "QUJD", "mimeType": "audio/wav"}`))
	}))
	defer srv.Close()

	relay, registry, _ := newTestRelay(t, srv.URL)
	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, domain.ResultKindBinaryAudio, final.Result.Kind)
	assert.Equal(t, "audio/wav", final.Result.MimeType)
	assert.Equal(t, []byte("ABC"), final.Result.Audio)
}

func TestRelay_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	relay, registry, _ := newTestRelay(t, srv.URL)
	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, domain.ResultKindText, final.Result.Kind)
	assert.Equal(t, "hello", final.Result.Text)
}

func TestRelay_ErrorStatusFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	relay, registry, _ := newTestRelay(t, srv.URL)
	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "boom")
}

func TestRelay_ErrorStatusWithAudioHeadersStillCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	relay, registry, _ := newTestRelay(t, srv.URL)
	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, domain.ResultKindBinaryAudio, final.Result.Kind)
}

func TestRelay_NetworkErrorFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	relay, registry, _ := newTestRelay(t, srv.URL)
	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	require.NotNil(t, final.Error)
}

func TestRelay_TimeoutFailsJob(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	registry := NewJobRegistry(logger)
	relay := NewRelay(logger, registry, NewEventBus(logger), nil, &fakeSettings{url: srv.URL}, "http://relay.test", 50*time.Millisecond)

	job, err := relay.Submit(domain.RelayRequest{Audio: []byte("ogg")})
	require.NoError(t, err)

	final := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
}

func TestRelay_ApplyIsIdempotent(t *testing.T) {
	relay, registry, _ := newTestRelay(t, "")
	job := registry.Create()

	first, err := relay.Apply(job.ID, http.StatusOK, "text/plain", []byte("first answer"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, first.Status)

	// Second completion (callback after synchronous path) must not corrupt.
	second, err := relay.Apply(job.ID, http.StatusOK, "text/plain", []byte("second answer"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, second.Status)
	require.NotNil(t, second.Result)
	assert.Equal(t, "first answer", second.Result.Text)
}

func TestRelay_ApplyUnknownJob(t *testing.T) {
	relay, _, _ := newTestRelay(t, "")

	_, err := relay.Apply("ghost", http.StatusOK, "text/plain", []byte("hi"))
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
