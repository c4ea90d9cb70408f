// Package queue implements the Job Queue Manager: enqueue, the legacy
// dequeue pull path, atomic claim, and the three terminal/progress writes.
// Every mutation that should notify a subscriber publishes through the
// Store's pub/sub rather than calling the Connection Manager directly —
// that indirection is what keeps ordering consistent if the hub ever runs
// as more than one process sharing a Store (§4.6 invariant 2).
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/model"
	"github.com/yungbote/gpuhub/internal/store"
)

type Manager struct {
	log                 *logger.Logger
	st                  *store.Store
	defaultClaimTimeout time.Duration
}

func New(log *logger.Logger, st *store.Store, defaultClaimTimeout time.Duration) *Manager {
	return &Manager{
		log:                 log.With("component", "JobQueueManager"),
		st:                  st,
		defaultClaimTimeout: defaultClaimTimeout,
	}
}

// JobUpdate is the payload published on job_updates / job_updates:{id}.
type JobUpdate struct {
	JobID     string         `json:"job_id"`
	Status    model.JobStatus `json:"status"`
	Timestamp float64        `json:"timestamp"`
	Progress  *int           `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
}

// JobAvailable is the payload published on job_notifications.
type JobAvailable struct {
	JobID         string         `json:"job_id"`
	JobType       string         `json:"job_type"`
	Priority      int            `json:"priority"`
	ParamsSummary map[string]any `json:"params_summary,omitempty"`
}

func (m *Manager) publishUpdate(ctx context.Context, u JobUpdate) {
	u.Timestamp = float64(time.Now().UnixNano()) / 1e9
	if err := m.st.Publish(ctx, store.ChannelJobUpdates, u); err != nil {
		m.log.Warn("publish job_updates failed", "job_id", u.JobID, "error", err)
	}
	if err := m.st.Publish(ctx, store.ChannelJobUpdatesFor(u.JobID), u); err != nil {
		m.log.Warn("publish job_updates:{id} failed", "job_id", u.JobID, "error", err)
	}
}

// Enqueue allocates an id, writes the pending job record, places it into
// the matching queue, and returns the id plus an estimated position.
func (m *Manager) Enqueue(ctx context.Context, jobType string, priority int, params map[string]any, clientID string) (*model.Job, int, error) {
	job := &model.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Priority:  priority,
		Params:    params,
		ClientID:  clientID,
		Status:    model.JobPending,
		CreatedAt: time.Now(),
	}
	if err := m.st.SaveJob(ctx, job); err != nil {
		return nil, 0, fmt.Errorf("save job: %w", err)
	}
	position, err := m.st.Enqueue(ctx, job.ID, priority)
	if err != nil {
		return nil, 0, fmt.Errorf("enqueue job: %w", err)
	}

	if err := m.st.Publish(ctx, store.ChannelJobNotifications, JobAvailable{
		JobID:         job.ID,
		JobType:       job.Type,
		Priority:      job.Priority,
		ParamsSummary: summarizeParams(params),
	}); err != nil {
		m.log.Warn("publish job_notifications failed", "job_id", job.ID, "error", err)
	}

	return job, position, nil
}

// summarizeParams caps what gets echoed in a notification frame; a full
// params blob can be arbitrarily large and workers only need a hint.
func summarizeParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	const maxKeys = 8
	out := make(map[string]any, maxKeys)
	i := 0
	for k, v := range params {
		if i >= maxKeys {
			break
		}
		out[k] = v
		i++
	}
	return out
}

// Dequeue is the legacy pull path (get_next_job): pops the highest-priority
// job, falling back to the standard list, and marks it processing.
func (m *Manager) Dequeue(ctx context.Context, workerID string) (*model.Job, error) {
	jobID, err := m.st.PopPriority(ctx)
	if err != nil {
		return nil, err
	}
	if jobID == "" {
		jobID, err = m.st.PopStandard(ctx)
		if err != nil {
			return nil, err
		}
	}
	if jobID == "" {
		return nil, nil
	}

	job, err := m.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	job.Status = model.JobProcessing
	job.StartedAt = &now
	job.WorkerID = workerID
	if err := m.st.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save dequeued job: %w", err)
	}

	m.publishUpdate(ctx, JobUpdate{JobID: job.ID, Status: job.Status, WorkerID: workerID})
	return job, nil
}

// Claim atomically transitions job_id from pending to claimed for
// worker_id. A loss is the ordinary outcome of losing a race, not an
// error — callers branch on the returned bool.
func (m *Manager) Claim(ctx context.Context, jobID, workerID string, claimTimeout time.Duration) (*model.Job, bool, error) {
	if claimTimeout <= 0 {
		claimTimeout = m.defaultClaimTimeout
	}
	won, err := m.st.TryClaim(ctx, jobID, workerID, claimTimeout)
	if err != nil {
		return nil, false, fmt.Errorf("claim: %w", err)
	}
	if !won {
		return nil, false, nil
	}

	// The claim script only flipped the hash fields it owns (status,
	// worker_id, claimed_at, claim_timeout); remove the job from whichever
	// queue it was sitting in so it is no longer dequeue-able.
	job, err := m.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Standard() {
		if err := m.st.RemoveStandard(ctx, jobID); err != nil {
			m.log.Warn("remove from standard queue failed", "job_id", jobID, "error", err)
		}
	} else {
		if err := m.st.RemovePriority(ctx, jobID); err != nil {
			m.log.Warn("remove from priority queue failed", "job_id", jobID, "error", err)
		}
	}

	m.publishUpdate(ctx, JobUpdate{JobID: jobID, Status: job.Status, WorkerID: workerID})
	return job, true, nil
}

// Progress writes clamped progress and an optional message. It does not
// validate that worker_id matches the job's assigned worker — the worker
// protocol is trusted; a mismatch is only logged (§4.1). Progress on a
// terminal job is silently dropped. A job still in claimed (the push path
// never writes processing itself — unlike the legacy Dequeue pull path)
// transitions to processing on its first progress report, with started_at
// set, matching the original's hardcoded status="processing" on the
// progress fan-out (original_source .../core/routes.py).
func (m *Manager) Progress(ctx context.Context, jobID string, progress int, workerID, message string) error {
	job, err := m.st.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		m.log.Debug("dropping progress update for terminal job", "job_id", jobID)
		return nil
	}
	if job.WorkerID != "" && job.WorkerID != workerID {
		m.log.Warn("progress reported by non-owning worker", "job_id", jobID, "owner", job.WorkerID, "reporter", workerID)
	}
	clamped := model.ClampProgress(progress)
	fields := map[string]any{"progress": clamped}
	if message != "" {
		fields["message"] = message
	}
	status := job.Status
	if status == model.JobClaimed {
		status = model.JobProcessing
		fields["status"] = string(status)
		now := time.Now()
		fields["started_at"] = now.Format(time.RFC3339Nano)
	}
	if err := m.st.UpdateJobFields(ctx, jobID, fields); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	m.publishUpdate(ctx, JobUpdate{JobID: jobID, Status: status, Progress: &clamped, Message: message, WorkerID: workerID})
	return nil
}

// Complete transitions the job to completed and stores its result.
// Re-delivery of a duplicate complete_job frame for an already-terminal
// job is a no-op: the stored result is immutable and no extra fan-out
// occurs.
func (m *Manager) Complete(ctx context.Context, jobID, workerID string, result map[string]any) error {
	job, err := m.st.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		m.log.Debug("duplicate complete_job for terminal job ignored", "job_id", jobID)
		return nil
	}
	now := time.Now()
	job.Status = model.JobCompleted
	job.CompletedAt = &now
	job.Result = result
	job.Progress = 100
	if err := m.st.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save completed job: %w", err)
	}
	m.publishUpdate(ctx, JobUpdate{JobID: jobID, Status: job.Status, Result: result, WorkerID: workerID})
	return nil
}

// Fail transitions the job to failed and records the error. Like
// Complete, it is a no-op against an already-terminal job.
func (m *Manager) Fail(ctx context.Context, jobID, workerID, errMsg string) error {
	job, err := m.st.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		m.log.Debug("duplicate fail_job for terminal job ignored", "job_id", jobID)
		return nil
	}
	now := time.Now()
	job.Status = model.JobFailed
	job.CompletedAt = &now
	job.Error = errMsg
	if err := m.st.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save failed job: %w", err)
	}
	m.publishUpdate(ctx, JobUpdate{JobID: jobID, Status: job.Status, Error: errMsg, WorkerID: workerID})
	return nil
}

// Get looks up a job by id. The Store returns an error wrapping
// apierr.ErrJobNotFound when no record exists, so callers can branch on
// errors.Is(err, apierr.ErrJobNotFound) directly.
func (m *Manager) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return m.st.GetJob(ctx, jobID)
}
