// Package registry implements the Worker Registry: registration,
// heartbeat, idle-set membership, and status transitions. It is the
// authoritative input for notification targeting (§4.2) — only workers
// that are idle, heartbeat-fresh, and not out_of_service are candidates.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/gpuhub/internal/apierr"
	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/model"
	"github.com/yungbote/gpuhub/internal/store"
)

type Registry struct {
	log *logger.Logger
	st  *store.Store
}

func New(log *logger.Logger, st *store.Store) *Registry {
	return &Registry{log: log.With("component", "WorkerRegistry"), st: st}
}

// Register creates or overwrites the worker record with status=idle, and
// adds it to workers:all and workers:idle.
func (r *Registry) Register(ctx context.Context, workerID, machineID, gpuID string) (*model.Worker, error) {
	now := time.Now()
	w := &model.Worker{
		ID:            workerID,
		MachineID:     machineID,
		GPUID:         gpuID,
		Status:        model.WorkerIdle,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if err := r.st.SaveWorker(ctx, w); err != nil {
		return nil, fmt.Errorf("save worker: %w", err)
	}
	if err := r.st.AddWorkerToAll(ctx, workerID); err != nil {
		return nil, fmt.Errorf("add workers:all: %w", err)
	}
	if err := r.st.AddIdle(ctx, workerID); err != nil {
		return nil, fmt.Errorf("add workers:idle: %w", err)
	}
	r.log.Info("worker registered", "worker_id", workerID, "machine_id", machineID, "gpu_id", gpuID)
	return w, nil
}

// Heartbeat refreshes last_heartbeat and, if status is provided, applies
// the same transition rules as SetStatus.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, status model.WorkerStatus) error {
	ok, err := r.Exists(ctx, workerID)
	if err != nil {
		return err
	}
	if !ok {
		// Decided against auto-registering with placeholder machine/gpu ids
		// (§9 flags this as unresolved in the source): a heartbeat for an
		// unknown worker is treated as a protocol error, not a silent
		// registration, so the worker is forced through register_worker.
		return apierr.New(apierr.ErrWorkerNotFound, workerID)
	}
	if err := r.st.TouchHeartbeat(ctx, workerID); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if status == "" {
		return nil
	}
	// This call is reached only just after a fresh heartbeat touch above,
	// so it is the one path allowed to reactivate an out_of_service worker.
	return r.setStatus(ctx, workerID, status, true, "")
}

// SetStatus applies the idle-set membership rule atomically with the
// status write: entering idle adds to workers:idle, leaving it removes.
// Called outside of Heartbeat, it never re-adds a worker to workers:idle
// if its persisted status is out_of_service — per §4.2, only a fresh
// heartbeat reactivates it.
func (r *Registry) SetStatus(ctx context.Context, workerID string, status model.WorkerStatus) error {
	return r.setStatus(ctx, workerID, status, false, "")
}

// SetBusy transitions a worker to busy and records the job it is now
// executing, mirroring the original's redis_service.update_worker_status(
// worker_id, "busy") call in handle_claim_job. Called on a winning claim so
// the worker leaves workers:idle immediately instead of lingering as a
// notification target until the next status write.
func (r *Registry) SetBusy(ctx context.Context, workerID, jobID string) error {
	return r.setStatus(ctx, workerID, model.WorkerBusy, false, jobID)
}

func (r *Registry) setStatus(ctx context.Context, workerID string, status model.WorkerStatus, viaHeartbeat bool, currentJob string) error {
	w, err := r.st.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if w.Status == model.WorkerOutOfService && status == model.WorkerIdle && !viaHeartbeat {
		r.log.Debug("ignoring idle transition for out_of_service worker outside heartbeat", "worker_id", workerID)
		return nil
	}
	fields := map[string]any{"status": string(status)}
	if status == model.WorkerBusy {
		fields["current_job"] = currentJob
	} else {
		// Leaving busy (completion, failure, disconnect, out_of_service)
		// clears the stale job reference.
		fields["current_job"] = ""
	}
	if err := r.st.UpdateWorkerFields(ctx, workerID, fields); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	switch status {
	case model.WorkerIdle:
		if err := r.st.AddIdle(ctx, workerID); err != nil {
			return fmt.Errorf("add idle: %w", err)
		}
	default:
		if err := r.st.RemoveIdle(ctx, workerID); err != nil {
			return fmt.Errorf("remove idle: %w", err)
		}
	}
	return nil
}

// Exists repairs a split between the worker hash existing and membership
// in workers:all, re-adding it if the hash is present but the set entry
// was lost (e.g. a crash between the two writes).
func (r *Registry) Exists(ctx context.Context, workerID string) (bool, error) {
	ok, err := r.st.WorkerExists(ctx, workerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	inAll, err := r.st.InWorkersAll(ctx, workerID)
	if err != nil {
		return false, err
	}
	if !inAll {
		if err := r.st.AddWorkerToAll(ctx, workerID); err != nil {
			return false, fmt.Errorf("repair workers:all: %w", err)
		}
	}
	return true, nil
}

func (r *Registry) Get(ctx context.Context, workerID string) (*model.Worker, error) {
	return r.st.GetWorker(ctx, workerID)
}

// FreshIdleWorkerIDs returns the current notification-eligible worker set.
func (r *Registry) FreshIdleWorkerIDs(ctx context.Context, freshness time.Duration) ([]string, error) {
	return r.st.FreshIdleWorkerIDs(ctx, freshness)
}
