package services

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/voxbridge/voicerelay/internal/core/domain"
)

const (
	jobIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	jobIDLength   = 21
)

// JobRegistry is the single owner of all live job records. Every read hands
// out a snapshot; every write goes through Update, which serializes writers
// and keeps terminal states sticky.
type JobRegistry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	jobs   map[domain.JobID]*domain.Job
	now    func() time.Time
}

func NewJobRegistry(logger *slog.Logger) *JobRegistry {
	return &JobRegistry{
		logger: logger,
		jobs:   make(map[domain.JobID]*domain.Job),
		now:    time.Now,
	}
}

// Create inserts a fresh pending job and returns its snapshot.
func (r *JobRegistry) Create() domain.Job {
	id := domain.JobID(gonanoid.MustGenerate(jobIDAlphabet, jobIDLength))
	now := r.now()

	job := &domain.Job{
		ID:        id,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[id] = job
	total := len(r.jobs)
	r.mu.Unlock()

	r.logger.Info("job created", "job_id", id, "total_jobs", total)
	return snapshot(job)
}

// Get returns a snapshot of the job, or domain.ErrJobNotFound.
func (r *JobRegistry) Get(id domain.JobID) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return snapshot(job), nil
}

// Update merges the partial update into the stored record and bumps
// UpdatedAt. Updates against a terminal job are no-ops returning the current
// snapshot, so a late duplicate completion can never corrupt the record.
// Backward status moves are dropped.
func (r *JobRegistry) Update(id domain.JobID, upd domain.JobUpdate) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	if job.Status.Terminal() {
		return snapshot(job), nil
	}

	if upd.Status != nil && job.Status.CanTransitionTo(*upd.Status) {
		job.Status = *upd.Status
	}
	if upd.Error != nil {
		job.Error = upd.Error
	}
	if upd.Result != nil {
		job.Result = upd.Result
	}

	// Result and error are mutually exclusive and imply their terminal state.
	switch job.Status {
	case domain.JobStatusCompleted:
		job.Error = nil
	case domain.JobStatusFailed:
		job.Result = nil
	}

	job.UpdatedAt = r.now()
	return snapshot(job), nil
}

// SweepOlderThan removes every job whose last update is at least maxAge in
// the past and returns the removed IDs. A maxAge of zero clears the registry.
func (r *JobRegistry) SweepOlderThan(maxAge time.Duration) []domain.JobID {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.JobID
	for id, job := range r.jobs {
		if now.Sub(job.UpdatedAt) >= maxAge {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// List returns snapshots of all live jobs, oldest first.
func (r *JobRegistry) List() []domain.Job {
	r.mu.RLock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, snapshot(job))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live jobs.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// snapshot deep-copies a record so callers can never mutate registry state.
func snapshot(job *domain.Job) domain.Job {
	cp := *job
	if job.Error != nil {
		e := *job.Error
		cp.Error = &e
	}
	if job.Result != nil {
		res := *job.Result
		if job.Result.Audio != nil {
			res.Audio = make([]byte, len(job.Result.Audio))
			copy(res.Audio, job.Result.Audio)
		}
		cp.Result = &res
	}
	return cp
}
