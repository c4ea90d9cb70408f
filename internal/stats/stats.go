// Package stats implements the Stats Broadcaster: a periodic poll of
// aggregate queue depths and status histograms, pushed to every client
// with an active stats subscription. Polling beats a write-through
// counter because every count it reports (queue lengths, status
// histograms) is already cheap to derive from existing Store structures,
// and a poll can't drift out of sync the way an incrementally maintained
// counter can after a crash mid-update.
package stats

import (
	"context"
	"reflect"
	"time"

	"github.com/yungbote/gpuhub/internal/conn"
	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/model"
	"github.com/yungbote/gpuhub/internal/store"
)

// forceBroadcastEvery caps how long a fully idle hub can go without a
// stats_response even when nothing has changed, per §4.7 ("if changed or
// every Nth tick regardless").
const forceBroadcastEvery = 10

// QueueCounts mirrors the stats_response.queues shape from §6: priority and
// standard depths plus their sum.
type QueueCounts struct {
	Priority int `json:"priority"`
	Standard int `json:"standard"`
	Total    int `json:"total"`
}

// JobCounts mirrors stats_response.jobs: a total plus a per-status histogram.
type JobCounts struct {
	Total  int            `json:"total"`
	Status map[string]int `json:"status"`
}

// WorkerCounts mirrors stats_response.workers: a total plus a per-status
// histogram, independent of connected-socket counts.
type WorkerCounts struct {
	Total  int            `json:"total"`
	Status map[string]int `json:"status"`
}

// Snapshot is the payload sent on every tick and on get_stats/subscribe_stats.
type Snapshot struct {
	Queues           QueueCounts  `json:"queues"`
	Jobs             JobCounts    `json:"jobs"`
	Workers          WorkerCounts `json:"workers"`
	ConnectedClients int          `json:"connected_clients"`
	ConnectedWorkers int          `json:"connected_workers"`
}

type Broadcaster struct {
	log      *logger.Logger
	st       *store.Store
	cm       *conn.Manager
	interval time.Duration

	tick int
	last *Snapshot
}

func New(log *logger.Logger, st *store.Store, cm *conn.Manager, interval time.Duration) *Broadcaster {
	return &Broadcaster{log: log.With("component", "StatsBroadcaster"), st: st, cm: cm, interval: interval}
}

// Run ticks on interval until ctx is cancelled, publishing a fresh
// Snapshot to every subscribed client whenever it differs from the last
// one broadcast, or unconditionally every forceBroadcastEvery ticks (§4.7).
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := b.collect(ctx)
			if err != nil {
				b.log.Warn("stats collection failed", "error", err)
				continue
			}
			b.tick++
			changed := b.last == nil || !reflect.DeepEqual(*b.last, snap)
			if !changed && b.tick%forceBroadcastEvery != 0 {
				continue
			}
			b.last = &snap
			b.cm.BroadcastStats(conn.Frame{Type: "stats_response", Data: snap})
		}
	}
}

// Collect is the one-shot counterpart of the periodic tick, used by the
// get_stats request/response message.
func (b *Broadcaster) Collect(ctx context.Context) (Snapshot, error) {
	return b.collect(ctx)
}

func (b *Broadcaster) collect(ctx context.Context) (Snapshot, error) {
	standardLen, err := b.st.StandardLen(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	priorityLen, err := b.st.PriorityLen(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	jobsByStatus := make(map[string]int, 5)
	jobsTotal := 0
	for _, status := range []model.JobStatus{
		model.JobPending, model.JobClaimed, model.JobProcessing, model.JobCompleted, model.JobFailed,
	} {
		jobs, err := b.st.ScanJobsByStatus(ctx, status)
		if err != nil {
			return Snapshot{}, err
		}
		jobsByStatus[string(status)] = len(jobs)
		jobsTotal += len(jobs)
	}

	workerIDs, err := b.st.AllWorkerIDs(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	workersByStatus := make(map[string]int, 4)
	for _, id := range workerIDs {
		w, err := b.st.GetWorker(ctx, id)
		if err != nil {
			continue
		}
		workersByStatus[string(w.Status)]++
	}

	return Snapshot{
		Queues: QueueCounts{
			Priority: int(priorityLen),
			Standard: int(standardLen),
			Total:    int(priorityLen) + int(standardLen),
		},
		Jobs:             JobCounts{Total: jobsTotal, Status: jobsByStatus},
		Workers:          WorkerCounts{Total: len(workerIDs), Status: workersByStatus},
		ConnectedClients: b.cm.ClientCount(),
		ConnectedWorkers: b.cm.WorkerCount(),
	}, nil
}
