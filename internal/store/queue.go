package store

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// PushStandard prepends to job_queue; PopStandard consumes the tail, giving
// plain FIFO order for priority=0 jobs.
func (s *Store) PushStandard(ctx context.Context, jobID string) error {
	return s.rdb.LPush(ctx, keyJobQueue, jobID).Err()
}

func (s *Store) PopStandard(ctx context.Context) (string, error) {
	id, err := s.rdb.RPop(ctx, keyJobQueue).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("rpop job_queue: %w", err)
	}
	return id, nil
}

func (s *Store) RemoveStandard(ctx context.Context, jobID string) error {
	return s.rdb.LRem(ctx, keyJobQueue, 0, jobID).Err()
}

func (s *Store) StandardLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, keyJobQueue).Result()
}

// PushPriority adds jobID to the priority ordered set keyed by its numeric
// priority. Members with equal score tie-break lexicographically, the
// ordering rule the spec calls out explicitly (§4.1) rather than a
// secondary FIFO sequence.
func (s *Store) PushPriority(ctx context.Context, jobID string, priority int) error {
	return s.rdb.ZAdd(ctx, keyPriorityQueue, goredis.Z{Score: float64(priority), Member: jobID}).Err()
}

// PopPriority pops the highest-priority member, or "" if the set is empty.
func (s *Store) PopPriority(ctx context.Context) (string, error) {
	res, err := s.rdb.ZPopMax(ctx, keyPriorityQueue, 1).Result()
	if err != nil {
		return "", fmt.Errorf("zpopmax priority_queue: %w", err)
	}
	if len(res) == 0 {
		return "", nil
	}
	id, _ := res[0].Member.(string)
	return id, nil
}

func (s *Store) RemovePriority(ctx context.Context, jobID string) error {
	return s.rdb.ZRem(ctx, keyPriorityQueue, jobID).Err()
}

func (s *Store) PriorityLen(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, keyPriorityQueue).Result()
}

// Enqueue places jobID into whichever structure matches priority, and
// returns a 1-based position estimate (not required to be exact under
// contention, per §4.1).
func (s *Store) Enqueue(ctx context.Context, jobID string, priority int) (int, error) {
	if priority > 0 {
		if err := s.PushPriority(ctx, jobID, priority); err != nil {
			return 0, err
		}
		n, err := s.PriorityLen(ctx)
		return int(n), err
	}
	if err := s.PushStandard(ctx, jobID); err != nil {
		return 0, err
	}
	n, err := s.StandardLen(ctx)
	return int(n), err
}

// Requeue re-inserts a reclaimed job into the appropriate queue, preserving
// its original priority.
func (s *Store) Requeue(ctx context.Context, jobID string, priority int) error {
	if priority > 0 {
		return s.PushPriority(ctx, jobID, priority)
	}
	return s.PushStandard(ctx, jobID)
}
