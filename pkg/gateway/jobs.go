package gateway

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/voxbridge/voicerelay/internal/core/domain"
)

const (
	maxUploadBytes   = 32 << 20
	maxCallbackBytes = 32 << 20
)

// jobPayload is the wire shape of a job snapshot. Binary results travel as
// base64 alongside their mime type; text results as responseText.
type jobPayload struct {
	ID                   string  `json:"id"`
	Status               string  `json:"status"`
	CreatedAt            int64   `json:"createdAt"`
	UpdatedAt            int64   `json:"updatedAt"`
	Error                *string `json:"error,omitempty"`
	ResponseText         *string `json:"responseText,omitempty"`
	ResponseType         *string `json:"responseType,omitempty"`
	ResponseBinaryBase64 *string `json:"responseBinaryBase64,omitempty"`
}

func toJobPayload(job domain.Job) jobPayload {
	p := jobPayload{
		ID:        string(job.ID),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.UnixMilli(),
		UpdatedAt: job.UpdatedAt.UnixMilli(),
		Error:     job.Error,
	}
	if job.Result == nil {
		return p
	}

	if job.Result.MimeType != "" {
		mt := job.Result.MimeType
		p.ResponseType = &mt
	}
	switch job.Result.Kind {
	case domain.ResultKindBinaryAudio:
		b64 := base64.StdEncoding.EncodeToString(job.Result.Audio)
		p.ResponseBinaryBase64 = &b64
	case domain.ResultKindText:
		text := job.Result.Text
		p.ResponseText = &text
	}
	return p
}

// handleCreateRecording accepts a multipart recording upload and answers 202
// with the job ID before the webhook is ever contacted.
// POST /v1/recordings
func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed multipart request: %v", err))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read audio: %v", err))
		return
	}

	job, err := s.relay.Submit(domain.RelayRequest{
		Audio:       audio,
		ContentType: header.Header.Get("Content-Type"),
		SessionID:   r.FormValue("sessionId"),
		UserID:      r.FormValue("userId"),
		Phone:       r.FormValue("phone"),
		WebhookURL:  r.FormValue("webhookUrl"),
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmptyPayload) {
			writeError(w, http.StatusBadRequest, "audio required")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": string(job.ID)})
}

// handleGetJob is the poll endpoint: the current snapshot or 404. A 404 means
// the job expired or never existed; the two are indistinguishable on purpose.
// GET /v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))

	job, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, toJobPayload(job))
}

// handleCompleteJob is the asynchronous completion callback the webhook may
// invoke instead of (or in addition to) answering synchronously. Calling it
// for an already-settled job is a harmless no-op.
// POST /v1/jobs/{id}/complete
func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read callback body: %v", err))
		return
	}

	job, err := s.relay.Apply(id, http.StatusOK, r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, toJobPayload(job))
}

// jobSummary is the introspection view: enough to see what the registry
// holds without shipping payload bytes.
type jobSummary struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	HasAudio  bool   `json:"hasAudio"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// handleListJobs summarizes all live registry entries.
// GET /v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.registry.List()

	items := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, jobSummary{
			ID:        string(job.ID),
			Status:    string(job.Status),
			HasAudio:  job.Result != nil && job.Result.Kind == domain.ResultKindBinaryAudio,
			CreatedAt: job.CreatedAt.UnixMilli(),
			UpdatedAt: job.UpdatedAt.UnixMilli(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"jobs":  items,
	})
}

// handleJobHistory returns the recorded transitions for a job. History can
// outlive the registry entry, so this works even after a sweep.
// GET /v1/jobs/{id}/history?limit=50
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := fmt.Sscanf(l, "%d", &limit); n != 1 || err != nil || limit <= 0 {
			limit = 50
		}
		if limit > 500 {
			limit = 500
		}
	}

	events, err := s.history.ListJobEvents(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list job events", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
