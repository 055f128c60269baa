// Package gateway is the HTTP surface of the relay: recording uploads, job
// polling, the webhook completion callback, history, live event streams and
// runtime settings.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/voxbridge/voicerelay/internal/config"
	"github.com/voxbridge/voicerelay/internal/core/domain"
	"github.com/voxbridge/voicerelay/internal/core/services"
)

// JobHistory is the narrow read interface the gateway needs from the event
// history repository.
type JobHistory interface {
	ListJobEvents(ctx context.Context, jobID domain.JobID, limit int) ([]domain.JobEvent, error)
}

type Server struct {
	logger   *slog.Logger
	relay    *services.Relay
	registry *services.JobRegistry
	bus      *services.EventBus
	settings *config.Store
	history  JobHistory
}

func NewServer(
	logger *slog.Logger,
	relay *services.Relay,
	registry *services.JobRegistry,
	bus *services.EventBus,
	settings *config.Store,
	history JobHistory,
) *Server {
	return &Server{
		logger:   logger,
		relay:    relay,
		registry: registry,
		bus:      bus,
		settings: settings,
		history:  history,
	}
}

// Handler returns the http.Handler for the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/recordings", s.handleCreateRecording)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /v1/jobs/{id}/complete", s.handleCompleteJob)
	mux.HandleFunc("GET /v1/jobs/{id}/history", s.handleJobHistory)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobSSE)
	mux.HandleFunc("GET /v1/events", s.handleBroadcastSSE)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
