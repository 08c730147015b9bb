package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotebook/internal/constants"
)

func newTestJob(store *JobStore) *Job {
	job := &Job{
		ID:        generateJobID(),
		Status:    constants.JobPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	store.addJob(job)
	return job
}

func TestJobStore_Lifecycle(t *testing.T) {
	store := newJobStore()
	job := newTestJob(store)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, store.claimJob(job.ID, cancel))
	assert.False(t, store.claimJob(job.ID, cancel), "a job is claimed once")

	got, ok := store.getJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, constants.JobInProgress, got.Status)

	store.completeJob(job.ID, nil)
	store.releaseJob(job.ID)
	got, _ = store.getJob(job.ID)
	assert.Equal(t, constants.JobCompleted, got.Status)

	exists, err := store.cancelJob(job.ID)
	assert.True(t, exists)
	assert.ErrorIs(t, err, errJobFinished)
}

func TestJobStore_CancelRunning(t *testing.T) {
	store := newJobStore()
	job := newTestJob(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, store.claimJob(job.ID, cancel))

	exists, err := store.cancelJob(job.ID)
	require.True(t, exists)
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestJobStore_CancelPending(t *testing.T) {
	store := newJobStore()
	job := newTestJob(store)

	exists, err := store.cancelJob(job.ID)
	require.True(t, exists)
	require.NoError(t, err)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.False(t, store.claimJob(job.ID, cancel))
	got, _ := store.getJob(job.ID)
	assert.Equal(t, constants.JobCancelled, got.Status)

	exists, _ = store.cancelJob("missing")
	assert.False(t, exists)
}

func TestJobStore_GetAllJobsNewestFirst(t *testing.T) {
	store := newJobStore()
	older := newTestJob(store)
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := newTestJob(store)

	jobs := store.GetAllJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID, jobs[0].ID)
	assert.Equal(t, older.ID, jobs[1].ID)
}

func TestProcessJob_Failure(t *testing.T) {
	app, _ := setupTestApp(t, &stubProvider{})
	job := &Job{
		ID:        generateJobID(),
		Status:    constants.JobPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		content:   pagePNG(t, false),
	}
	jobStore.addJob(job)

	processJob(app, job)

	got, ok := jobStore.getJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, constants.JobFailed, got.Status)
	assert.Equal(t, "No text detected. Please ensure the text is clear and well-lit.", got.Error)
	assert.Nil(t, got.content)
}
