// Package reclaim runs the three independent periodic sweeps that recover
// jobs and workers left in an inconsistent state by a crash, a dropped
// socket, or a worker that simply never reports back: stale claims,
// stale workers, and a deep sweep that reverts work assigned to workers
// already marked out_of_service.
package reclaim

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/model"
	"github.com/yungbote/gpuhub/internal/queue"
	"github.com/yungbote/gpuhub/internal/registry"
	"github.com/yungbote/gpuhub/internal/store"
)

type Config struct {
	StaleClaimSweepInterval  time.Duration
	StaleWorkerSweepInterval time.Duration
	OutOfServiceThreshold    time.Duration
	DeepSweepInterval        time.Duration
	DeepSweepThreshold       time.Duration
}

type Sweeper struct {
	log  *logger.Logger
	st   *store.Store
	q    *queue.Manager
	reg  *registry.Registry
	cfg  Config
}

func New(log *logger.Logger, st *store.Store, q *queue.Manager, reg *registry.Registry, cfg Config) *Sweeper {
	return &Sweeper{log: log.With("component", "ReclamationService"), st: st, q: q, reg: reg, cfg: cfg}
}

// Run launches all three sweeps under an errgroup and blocks until ctx is
// cancelled; a failing sweep keeps retrying with capped backoff.
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, "stale_claims", s.cfg.StaleClaimSweepInterval, s.sweepStaleClaims) })
	g.Go(func() error { return s.loop(ctx, "stale_workers", s.cfg.StaleWorkerSweepInterval, s.sweepStaleWorkers) })
	g.Go(func() error { return s.loop(ctx, "deep_sweep", s.cfg.DeepSweepInterval, s.deepSweep) })
	return g.Wait()
}

// loop runs fn on a fixed ticker, applying exponential backoff (capped at
// 30s) across consecutive failures instead of busy-spinning a broken Store
// connection. A successful pass resets the backoff.
func (s *Sweeper) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				consecutiveFailures++
				backoff := backoffFor(consecutiveFailures)
				s.log.Warn("sweep failed, backing off", "sweep", name, "error", err, "backoff", backoff, "consecutive_failures", consecutiveFailures)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

const maxBackoff = 30 * time.Second

func backoffFor(failures int) time.Duration {
	d := time.Duration(math.Pow(2, float64(failures))) * time.Second
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// sweepStaleClaims reverts any claimed job whose claim_timeout has elapsed
// back to pending, re-inserting it into its original queue. The revert
// script is itself a no-op if the job progressed past claimed in the
// meantime, so this never clobbers a worker that just started processing.
func (s *Sweeper) sweepStaleClaims(ctx context.Context) error {
	jobs, err := s.st.ScanJobsByStatus(ctx, model.JobClaimed)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, job := range jobs {
		if job.ClaimedAt == nil {
			continue
		}
		timeout := job.ClaimTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		if now.Before(job.ClaimedAt.Add(timeout)) {
			continue
		}
		reverted, err := s.st.RevertIfStatus(ctx, job.ID, model.JobClaimed)
		if err != nil {
			s.log.Warn("revert stale claim failed", "job_id", job.ID, "error", err)
			continue
		}
		if !reverted {
			continue
		}
		if err := s.st.Requeue(ctx, job.ID, job.Priority); err != nil {
			s.log.Warn("requeue reclaimed job failed", "job_id", job.ID, "error", err)
			continue
		}
		s.log.Info("reclaimed stale claim", "job_id", job.ID, "worker_id", job.WorkerID)
	}
	return nil
}

// sweepStaleWorkers marks any worker whose last_heartbeat is older than
// OutOfServiceThreshold as out_of_service and drops it from workers:idle,
// so it stops receiving job_available notifications.
func (s *Sweeper) sweepStaleWorkers(ctx context.Context) error {
	ids, err := s.st.AllWorkerIDs(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-s.cfg.OutOfServiceThreshold)
	for _, id := range ids {
		w, err := s.reg.Get(ctx, id)
		if err != nil {
			continue
		}
		if w.Status == model.WorkerOutOfService {
			continue
		}
		if w.LastHeartbeat.After(cutoff) {
			continue
		}
		if err := s.reg.SetStatus(ctx, id, model.WorkerOutOfService); err != nil {
			s.log.Warn("mark out_of_service failed", "worker_id", id, "error", err)
			continue
		}
		s.log.Info("worker marked out_of_service", "worker_id", id, "last_heartbeat", w.LastHeartbeat)
	}
	return nil
}

// deepSweep catches jobs left processing by a worker that is out_of_service
// and whose last heartbeat is older than DeepSweepThreshold — the heartbeat
// sweeper only changes worker status, it never touches the job the
// worker was holding, so this closes that gap on a slower cadence.
func (s *Sweeper) deepSweep(ctx context.Context) error {
	jobs, err := s.st.ScanJobsByStatus(ctx, model.JobProcessing)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-s.cfg.DeepSweepThreshold)
	for _, job := range jobs {
		if job.WorkerID == "" {
			continue
		}
		w, err := s.reg.Get(ctx, job.WorkerID)
		if err != nil {
			continue
		}
		if w.Status != model.WorkerOutOfService || w.LastHeartbeat.After(cutoff) {
			continue
		}
		reverted, err := s.st.RevertIfStatus(ctx, job.ID, model.JobProcessing)
		if err != nil {
			s.log.Warn("deep sweep revert failed", "job_id", job.ID, "error", err)
			continue
		}
		if !reverted {
			continue
		}
		if err := s.st.Requeue(ctx, job.ID, job.Priority); err != nil {
			s.log.Warn("deep sweep requeue failed", "job_id", job.ID, "error", err)
			continue
		}
		s.log.Info("deep sweep reclaimed job from out_of_service worker", "job_id", job.ID, "worker_id", job.WorkerID)
	}
	return nil
}
