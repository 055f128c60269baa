package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
)

type settingsPayload struct {
	WebhookURL string `json:"webhookUrl"`
}

// handleGetSettings returns the current default webhook URL.
// GET /v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, settingsPayload{WebhookURL: s.settings.WebhookURL()})
}

// handleUpdateSettings changes the default webhook URL at runtime. An empty
// value clears it.
// PUT /v1/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}

	if payload.WebhookURL != "" {
		parsed, err := url.ParseRequestURI(payload.WebhookURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			writeError(w, http.StatusBadRequest, "webhookUrl must be an http(s) URL")
			return
		}
	}

	if err := s.settings.SetWebhookURL(r.Context(), payload.WebhookURL); err != nil {
		s.logger.Error("failed to update settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist settings")
		return
	}

	writeJSON(w, http.StatusOK, settingsPayload{WebhookURL: s.settings.WebhookURL()})
}
