package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/gpuhub/internal/apierr"
	"github.com/yungbote/gpuhub/internal/model"
)

const timeLayout = time.RFC3339Nano

// SaveJob writes the full job hash. The Queue Manager's enqueue, dequeue,
// complete and fail writes go through this; claim uses claimScript and
// progress uses UpdateJobFields.
func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id required")
	}
	vals, err := jobToHash(job)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, jobKey(job.ID), vals).Err()
}

// GetJob loads a job by id, returning apierr.ErrJobNotFound when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	vals, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall job:%s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, apierr.New(apierr.ErrJobNotFound, id)
	}
	return hashToJob(id, vals)
}

// UpdateJobFields performs a partial hash update without reading/rewriting
// the whole record; used by the high-frequency progress path.
func (s *Store) UpdateJobFields(ctx context.Context, id string, fields map[string]any) error {
	return s.rdb.HSet(ctx, jobKey(id), fields).Err()
}

func jobToHash(j *model.Job) (map[string]interface{}, error) {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	var result []byte
	if j.Result != nil {
		result, err = json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	vals := map[string]interface{}{
		"id":         j.ID,
		"type":       j.Type,
		"priority":   j.Priority,
		"params":     string(params),
		"client_id":  j.ClientID,
		"status":     string(j.Status),
		"created_at": j.CreatedAt.Format(timeLayout),
		"progress":   j.Progress,
		"message":    j.Message,
		"worker_id":  j.WorkerID,
		"error":      j.Error,
	}
	if j.StartedAt != nil {
		vals["started_at"] = j.StartedAt.Format(timeLayout)
	}
	if j.ClaimedAt != nil {
		vals["claimed_at"] = j.ClaimedAt.Format(timeLayout)
	}
	if j.CompletedAt != nil {
		vals["completed_at"] = j.CompletedAt.Format(timeLayout)
	}
	if j.ClaimTimeout > 0 {
		vals["claim_timeout"] = j.ClaimTimeout.Seconds()
	}
	if len(result) > 0 {
		vals["result"] = string(result)
	}
	return vals, nil
}

func hashToJob(id string, vals map[string]string) (*model.Job, error) {
	j := &model.Job{
		ID:       id,
		Type:     vals["type"],
		Status:   model.JobStatus(vals["status"]),
		ClientID: vals["client_id"],
		Message:  vals["message"],
		WorkerID: vals["worker_id"],
		Error:    vals["error"],
	}
	if p, err := strconv.Atoi(vals["priority"]); err == nil {
		j.Priority = p
	}
	if p, err := strconv.Atoi(vals["progress"]); err == nil {
		j.Progress = p
	}
	if raw := vals["params"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if raw := vals["result"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	j.CreatedAt = parseTime(vals["created_at"])
	j.StartedAt = parseTimePtr(vals["started_at"])
	j.ClaimedAt = parseTimePtr(vals["claimed_at"])
	j.CompletedAt = parseTimePtr(vals["completed_at"])
	if raw := vals["claim_timeout"]; raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			j.ClaimTimeout = time.Duration(secs * float64(time.Second))
		}
	}
	return j, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t := parseTime(raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

// claimScript atomically checks status=="pending" before transitioning to
// claimed, so concurrent claims for the same job resolve to exactly one
// winner regardless of how many hub processes share this Store.
var claimScript = goredis.NewScript(`
local key = KEYS[1]
local status = redis.call('HGET', key, 'status')
if status ~= 'pending' then
  return 0
end
redis.call('HSET', key, 'status', 'claimed', 'worker_id', ARGV[1], 'claimed_at', ARGV[2], 'claim_timeout', ARGV[3])
return 1
`)

// TryClaim runs the CAS script and reports whether this caller won the race.
func (s *Store) TryClaim(ctx context.Context, jobID, workerID string, claimTimeout time.Duration) (bool, error) {
	res, err := claimScript.Run(ctx, s.rdb, []string{jobKey(jobID)},
		workerID, time.Now().Format(timeLayout), claimTimeout.Seconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("claim script: %w", err)
	}
	return res == 1, nil
}

// revertScript reverts a job back to pending if its status still equals
// ARGV[1]; the stale-claim sweeper passes claimed and the deep sweep passes
// processing. It is a no-op (returns 0) if the job moved on in the
// meantime, matching the idempotence requirement.
var revertScript = goredis.NewScript(`
local key = KEYS[1]
local status = redis.call('HGET', key, 'status')
if status ~= ARGV[1] then
  return 0
end
redis.call('HSET', key, 'status', 'pending', 'worker_id', '', 'claimed_at', '', 'claim_timeout', '')
return 1
`)

// RevertIfStatus reverts the job to pending only if its current status
// still matches expected, avoiding a race with a worker that just reported
// progress/completion.
func (s *Store) RevertIfStatus(ctx context.Context, jobID string, expected model.JobStatus) (bool, error) {
	res, err := revertScript.Run(ctx, s.rdb, []string{jobKey(jobID)}, string(expected)).Int()
	if err != nil {
		return false, fmt.Errorf("revert script: %w", err)
	}
	return res == 1, nil
}

// ScanJobsByStatus walks every job key and returns those matching status.
// Reclamation sweeps run on the order of seconds, not per-request, so a
// SCAN-based pass is acceptable; a large deployment would replace this
// with a secondary index, which is out of scope here.
func (s *Store) ScanJobsByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error) {
	var jobs []*model.Job
	iter := s.rdb.Scan(ctx, 0, "job:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		if model.JobStatus(vals["status"]) != status {
			continue
		}
		id := key[len("job:"):]
		job, err := hashToJob(id, vals)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return jobs, nil
}
