package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voicerelay/internal/core/domain"
)

const (
	defaultJobTTL        = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute
)

// Sweeper evicts jobs that have not been touched within the TTL. A pending
// job past the TTL is a lost job; it gets reclaimed like any other.
type Sweeper struct {
	logger   *slog.Logger
	registry *JobRegistry
	bus      *EventBus
	history  JobHistory
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(logger *slog.Logger, registry *JobRegistry, bus *EventBus, history JobHistory, ttl, interval time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		logger:   logger,
		registry: registry,
		bus:      bus,
		history:  history,
		ttl:      ttl,
		interval: interval,
	}
}

// Run starts the periodic sweep loop. Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("retention sweeper started", "ttl", s.ttl, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce removes expired jobs immediately and returns the removed count.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed := s.registry.SweepOlderThan(s.ttl)
	if len(removed) == 0 {
		return 0
	}

	s.logger.Info("swept expired jobs", "count", len(removed), "ttl", s.ttl)

	now := time.Now()
	for _, id := range removed {
		if s.history != nil {
			ev := domain.JobEvent{
				ID:        uuid.New().String(),
				JobID:     id,
				Status:    domain.JobEventSwept,
				Detail:    "expired by retention sweeper",
				CreatedAt: now,
			}
			if err := s.history.RecordJobEvent(ctx, ev); err != nil {
				s.logger.Warn("failed to record sweep event", "job_id", id, "error", err)
			}
		}
		if s.bus != nil {
			s.bus.Publish(Event{
				JobID:     string(id),
				Type:      EventTypeSwept,
				Data:      `{"jobId":"` + string(id) + `","swept":true}`,
				Timestamp: now.UnixMilli(),
			})
		}
	}
	return len(removed)
}
