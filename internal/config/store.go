package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const settingWebhookURL = "webhook_url"

// SettingsRepository is the minimal persistence interface for settings.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// OnChangeFunc is called with the new webhook URL after an update lands.
type OnChangeFunc func(webhookURL string)

// Store holds the settings that can change while the process runs. Today
// that is the default webhook URL, which operators adjust without a restart.
type Store struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	repo       SettingsRepository
	webhookURL string
	onChange   []OnChangeFunc
}

// NewStore loads the persisted webhook URL, falling back to the provided
// default (typically from the environment).
func NewStore(logger *slog.Logger, repo SettingsRepository, defaultWebhookURL string) (*Store, error) {
	s := &Store{
		logger:     logger,
		repo:       repo,
		webhookURL: defaultWebhookURL,
	}

	ctx := context.Background()
	saved, err := repo.GetSetting(ctx, settingWebhookURL)
	if err != nil {
		logger.Info("no saved webhook URL, using default", "configured", defaultWebhookURL != "")
		if defaultWebhookURL != "" {
			if err := repo.SaveSetting(ctx, settingWebhookURL, defaultWebhookURL); err != nil {
				return nil, fmt.Errorf("persist default webhook URL: %w", err)
			}
		}
		return s, nil
	}

	s.webhookURL = saved
	return s, nil
}

// OnChange registers a callback invoked after every settings update.
func (s *Store) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// WebhookURL returns the current default destination. May be empty.
func (s *Store) WebhookURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL
}

// SetWebhookURL persists the new destination and notifies listeners. An
// empty value clears the default; jobs submitted without an override will
// then fail with a configuration error.
func (s *Store) SetWebhookURL(ctx context.Context, url string) error {
	s.mu.Lock()
	if err := s.repo.SaveSetting(ctx, settingWebhookURL, url); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("save webhook URL: %w", err)
	}
	s.webhookURL = url
	callbacks := make([]OnChangeFunc, len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	s.logger.Info("webhook URL updated", "configured", url != "")
	for _, fn := range callbacks {
		fn(url)
	}
	return nil
}
