package inmemory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/jobs"
)

// Store keeps statement jobs in process memory for the jobs API. It is safe
// for concurrent use; jobs are lost on restart.
type Store struct {
	mu   sync.RWMutex
	byID map[string]jobs.ProcessStatementJob
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byID: make(map[string]jobs.ProcessStatementJob)}
}

// SaveJob records a snapshot of job. Later changes to job are not seen until
// it is saved again.
func (s *Store) SaveJob(_ context.Context, job *jobs.ProcessStatementJob) error {
	if job.JobID == "" {
		return errors.New("SaveJob: job ID is required")
	}

	s.mu.Lock()
	s.byID[job.JobID] = *job
	s.mu.Unlock()
	return nil
}

// GetJob returns a copy of the job. Unknown IDs yield jobs.ErrJobNotFound.
func (s *Store) GetJob(_ context.Context, jobID string) (*jobs.ProcessStatementJob, error) {
	s.mu.RLock()
	job, ok := s.byID[jobID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return &job, nil
}

// ListJobs returns copies of the jobs matching filter, newest first. Jobs
// created at the same instant are ordered by ID so pages are stable.
func (s *Store) ListJobs(_ context.Context, filter jobs.JobFilter) ([]*jobs.ProcessStatementJob, error) {
	s.mu.RLock()
	matched := make([]*jobs.ProcessStatementJob, 0, len(s.byID))
	for _, job := range s.byID {
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, &job)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *jobs.ProcessStatementJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.JobID, b.JobID)
	})

	if filter.Offset >= len(matched) {
		return []*jobs.ProcessStatementJob{}, nil
	}
	matched = matched[max(filter.Offset, 0):]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdateJobStatus moves a job to status. A terminal status also stamps
// CompletedAt; errorMsg, when set, replaces the recorded error.
func (s *Store) UpdateJobStatus(_ context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	if status == jobs.JobStatusCompleted || status == jobs.JobStatusFailed {
		now := time.Now()
		job.CompletedAt = &now
	}
	s.byID[jobID] = job
	return nil
}

var _ jobs.JobStore = (*Store)(nil)
