package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetJobReturnsCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	job := &jobs.ProcessStatementJob{JobID: "a", Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))
	job.Status = jobs.JobStatusFailed

	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestStore_SaveRequiresID(t *testing.T) {
	assert.Error(t, NewStore().SaveJob(context.Background(), &jobs.ProcessStatementJob{}))
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, j := range []jobs.ProcessStatementJob{
		{JobID: "1", UserID: "42", Status: jobs.JobStatusCompleted},
		{JobID: "2", UserID: "42", Status: jobs.JobStatusFailed},
		{JobID: "3", UserID: "7", Status: jobs.JobStatusCompleted},
		{JobID: "4", UserID: "42", Status: jobs.JobStatusCompleted},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, &j))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{name: "all newest first", filter: jobs.JobFilter{}, want: []string{"4", "3", "2", "1"}},
		{name: "by user", filter: jobs.JobFilter{UserID: "42"}, want: []string{"4", "2", "1"}},
		{name: "by status", filter: jobs.JobFilter{Status: jobs.JobStatusCompleted}, want: []string{"4", "3", "1"}},
		{name: "paged", filter: jobs.JobFilter{Limit: 2, Offset: 1}, want: []string{"3", "2"}},
		{name: "offset past end", filter: jobs.JobFilter{Offset: 10}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_UpdateJobStatus(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.SaveJob(ctx, &jobs.ProcessStatementJob{JobID: "a"}))

	require.NoError(t, s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"))
	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.NotNil(t, got.CompletedAt)

	require.NoError(t, s.UpdateJobStatus(ctx, "a", jobs.JobStatusRunning, ""))
	got, err = s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Error)

	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusRunning, ""), jobs.ErrJobNotFound)
}
