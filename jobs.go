package main

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quotebook/internal/constants"
	"quotebook/underline"
)

// Job represents an asynchronous extraction of one uploaded page
type Job struct {
	ID        string
	Filename  string
	Status    string // "pending", "in_progress", "completed", "failed", "cancelled"
	Result    *underline.OCRResult
	Error     string // user facing error message
	CreatedAt time.Time
	UpdatedAt time.Time

	content []byte
}

// JobStore manages jobs and their statuses
type JobStore struct {
	sync.RWMutex
	jobs       map[string]*Job
	cancellers map[string]context.CancelFunc
}

var (
	logger = logrus.New()

	jobStore = newJobStore()
	jobQueue = make(chan *Job, 100) // Buffered channel with capacity of 100 jobs
)

func init() {
	// Initialize logger
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
}

func newJobStore() *JobStore {
	return &JobStore{
		jobs:       make(map[string]*Job),
		cancellers: make(map[string]context.CancelFunc),
	}
}

func generateJobID() string {
	return uuid.New().String()
}

func jobLogger(jobID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"prefix": "EXTRACT_JOB",
		"job_id": jobID,
	})
}

func (store *JobStore) addJob(job *Job) {
	store.Lock()
	defer store.Unlock()
	store.jobs[job.ID] = job
	jobLogger(job.ID).WithField("filename", job.Filename).Info("Job added")
}

func (store *JobStore) removeJob(jobID string) {
	store.Lock()
	defer store.Unlock()
	delete(store.jobs, jobID)
}

// getJob returns a snapshot of the job so callers never race with workers
func (store *JobStore) getJob(jobID string) (Job, bool) {
	store.RLock()
	defer store.RUnlock()
	job, exists := store.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

func (store *JobStore) GetAllJobs() []Job {
	store.RLock()
	defer store.RUnlock()

	jobs := make([]Job, 0, len(store.jobs))
	for _, job := range store.jobs {
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs
}

func (store *JobStore) updateJobStatus(jobID, status string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = status
		job.UpdatedAt = time.Now()
		jobLogger(jobID).WithField("status", status).Info("Job status updated")
	}
}

func (store *JobStore) completeJob(jobID string, result *underline.OCRResult) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = constants.JobCompleted
		job.Result = result
		job.content = nil
		job.UpdatedAt = time.Now()
		jobLogger(jobID).Info("Job completed")
	}
}

func (store *JobStore) failJob(jobID, status, message string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = status
		job.Error = message
		job.content = nil
		job.UpdatedAt = time.Now()
		jobLogger(jobID).WithFields(logrus.Fields{"status": status, "error": message}).Info("Job finished without result")
	}
}

// claimJob moves a pending job to in_progress and registers its cancel func.
// It returns false when the job was cancelled while still queued.
func (store *JobStore) claimJob(jobID string, cancel context.CancelFunc) bool {
	store.Lock()
	defer store.Unlock()
	job, exists := store.jobs[jobID]
	if !exists || job.Status != constants.JobPending {
		return false
	}
	job.Status = constants.JobInProgress
	job.UpdatedAt = time.Now()
	store.cancellers[jobID] = cancel
	return true
}

func (store *JobStore) releaseJob(jobID string) {
	store.Lock()
	defer store.Unlock()
	delete(store.cancellers, jobID)
}

// cancelJob cancels a pending or running job. It reports false when the job
// does not exist or has already finished.
func (store *JobStore) cancelJob(jobID string) (bool, error) {
	store.Lock()
	defer store.Unlock()
	job, exists := store.jobs[jobID]
	if !exists {
		return false, nil
	}
	switch job.Status {
	case constants.JobPending:
		job.Status = constants.JobCancelled
		job.Error = "Job cancelled by user"
		job.content = nil
		job.UpdatedAt = time.Now()
	case constants.JobInProgress:
		if cancel, ok := store.cancellers[jobID]; ok {
			cancel()
		}
	default:
		return true, errJobFinished
	}
	jobLogger(jobID).Info("Job cancellation requested")
	return true, nil
}

var errJobFinished = errors.New("job already finished")

func startWorkerPool(app *App, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			logger.Infof("Worker %d started", workerID)
			for job := range jobQueue {
				logger.Infof("Worker %d processing job: %s", workerID, job.ID)
				processJob(app, job)
			}
		}(i)
	}
}

func processJob(app *App, job *Job) {
	jobCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !jobStore.claimJob(job.ID, cancel) {
		jobLogger(job.ID).Info("Skipping job that is no longer pending")
		return
	}
	defer jobStore.releaseJob(job.ID)

	result, err := app.extractPage(jobCtx, job.content, jobLogger(job.ID))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			jobStore.failJob(job.ID, constants.JobCancelled, "Job cancelled by user")
			return
		}
		jobLogger(job.ID).WithError(err).Error("Error extracting text")
		jobStore.failJob(job.ID, constants.JobFailed, underline.UserMessage(err))
		return
	}

	jobStore.completeJob(job.ID, result)
}
