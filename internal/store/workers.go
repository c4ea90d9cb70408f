package store

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/gpuhub/internal/apierr"
	"github.com/yungbote/gpuhub/internal/model"
)

func (s *Store) SaveWorker(ctx context.Context, w *model.Worker) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("worker id required")
	}
	vals := map[string]interface{}{
		"id":             w.ID,
		"machine_id":     w.MachineID,
		"gpu_id":         w.GPUID,
		"status":         string(w.Status),
		"registered_at":  w.RegisteredAt.Format(timeLayout),
		"last_heartbeat": w.LastHeartbeat.Format(timeLayout),
		"current_job":    w.CurrentJob,
	}
	return s.rdb.HSet(ctx, workerKey(w.ID), vals).Err()
}

func (s *Store) GetWorker(ctx context.Context, id string) (*model.Worker, error) {
	vals, err := s.rdb.HGetAll(ctx, workerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall worker:%s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, apierr.New(apierr.ErrWorkerNotFound, id)
	}
	return &model.Worker{
		ID:            id,
		MachineID:     vals["machine_id"],
		GPUID:         vals["gpu_id"],
		Status:        model.WorkerStatus(vals["status"]),
		RegisteredAt:  parseTime(vals["registered_at"]),
		LastHeartbeat: parseTime(vals["last_heartbeat"]),
		CurrentJob:    vals["current_job"],
	}, nil
}

func (s *Store) UpdateWorkerFields(ctx context.Context, id string, fields map[string]any) error {
	return s.rdb.HSet(ctx, workerKey(id), fields).Err()
}

// TouchHeartbeat updates last_heartbeat to now.
func (s *Store) TouchHeartbeat(ctx context.Context, id string) error {
	return s.UpdateWorkerFields(ctx, id, map[string]any{"last_heartbeat": time.Now().Format(timeLayout)})
}

func (s *Store) WorkerExists(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, workerKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists worker:%s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) AddWorkerToAll(ctx context.Context, id string) error {
	return s.rdb.SAdd(ctx, keyWorkersAll, id).Err()
}

func (s *Store) InWorkersAll(ctx context.Context, id string) (bool, error) {
	return s.rdb.SIsMember(ctx, keyWorkersAll, id).Result()
}

func (s *Store) AddIdle(ctx context.Context, id string) error {
	return s.rdb.SAdd(ctx, keyWorkersIdle, id).Err()
}

func (s *Store) RemoveIdle(ctx context.Context, id string) error {
	return s.rdb.SRem(ctx, keyWorkersIdle, id).Err()
}

func (s *Store) IdleWorkerIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, keyWorkersIdle).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers workers:idle: %w", err)
	}
	return ids, nil
}

func (s *Store) AllWorkerIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, keyWorkersAll).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers workers:all: %w", err)
	}
	return ids, nil
}

// FreshIdleWorkerIDs intersects workers:idle against a heartbeat freshness
// window, used by the Notification Bus to pick notification targets.
func (s *Store) FreshIdleWorkerIDs(ctx context.Context, freshness time.Duration) ([]string, error) {
	ids, err := s.IdleWorkerIDs(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-freshness)
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		w, err := s.GetWorker(ctx, id)
		if err != nil {
			continue
		}
		if w.Status == model.WorkerOutOfService {
			continue
		}
		if w.LastHeartbeat.Before(cutoff) {
			continue
		}
		fresh = append(fresh, id)
	}
	return fresh, nil
}
