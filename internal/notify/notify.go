// Package notify is the Notification Bus: it subscribes to job_updates and
// job_notifications on the Store's pub/sub, fans updates out to the
// Connection Manager's subscriber maps, and caches a short window of
// recent updates per job_id so a client that subscribes just after a
// completion still sees it. Grounded on the teacher's redis SSE bus
// forwarder (internal/clients/redis/sse_bus.go StartForwarder) — confirm
// subscription start, then pump a callback off a goroutine until ctx ends.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yungbote/gpuhub/internal/conn"
	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/registry"
	"github.com/yungbote/gpuhub/internal/store"
)

const cacheTTL = 2 * time.Minute

type cachedUpdate struct {
	frame   conn.Frame
	expires time.Time
}

type Bus struct {
	log  *logger.Logger
	st   *store.Store
	cm   *conn.Manager
	reg  *registry.Registry

	idleFreshness time.Duration

	mu    sync.Mutex
	cache map[string]cachedUpdate
}

func New(log *logger.Logger, st *store.Store, cm *conn.Manager, reg *registry.Registry, idleFreshness time.Duration) *Bus {
	return &Bus{
		log:           log.With("component", "NotificationBus"),
		st:            st,
		cm:            cm,
		reg:           reg,
		idleFreshness: idleFreshness,
		cache:         make(map[string]cachedUpdate),
	}
}

// Run subscribes to both channels; each Subscribe call returns once its
// forwarder goroutine is confirmed running, so Run itself returns quickly
// and the caller supervises shutdown via ctx.
func (b *Bus) Run(ctx context.Context) error {
	if err := b.st.Subscribe(ctx, b.log, store.ChannelJobUpdates, b.onJobUpdate); err != nil {
		return err
	}
	if err := b.st.Subscribe(ctx, b.log, store.ChannelJobNotifications, b.onJobNotification); err != nil {
		return err
	}
	b.log.Info("notification bus subscribed", "channels", []string{store.ChannelJobUpdates, store.ChannelJobNotifications})
	go b.evictExpired(ctx)
	return nil
}

func (b *Bus) onJobUpdate(raw []byte) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		b.log.Warn("bad job_updates payload", "error", err)
		return
	}
	jobID, _ := payload["job_id"].(string)
	if jobID == "" {
		return
	}
	// §9: two distinct "complete" shapes exist; complete_job is the
	// worker-to-hub message, job_completed is hub-to-client. A completed
	// status gets the dedicated frame type, everything else (including
	// failed, per §7's "terminal job_update{status=failed,...}") stays
	// job_update.
	frameType := "job_update"
	if status, _ := payload["status"].(string); status == "completed" {
		frameType = "job_completed"
	}
	frame := conn.Frame{Type: frameType, Data: payload}

	b.mu.Lock()
	b.cache[jobID] = cachedUpdate{frame: frame, expires: time.Now().Add(cacheTTL)}
	b.mu.Unlock()

	b.cm.BroadcastJobUpdate(jobID, frame)
}

func (b *Bus) onJobNotification(raw []byte) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		b.log.Warn("bad job_notifications payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ids, err := b.reg.FreshIdleWorkerIDs(ctx, b.idleFreshness)
	if err != nil {
		b.log.Warn("fresh idle worker lookup failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	sent := b.cm.NotifyEligibleWorkers(ids, conn.Frame{Type: "job_available", Data: payload})
	b.log.Debug("job_available notification fanned out", "job_id", payload["job_id"], "candidates", len(ids), "delivered", sent)
}

// LastUpdate returns the most recent cached frame for a job, if any and
// not yet expired — used when a client subscribes to a job after its
// last update already fired.
func (b *Bus) LastUpdate(jobID string) (conn.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cache[jobID]
	if !ok || time.Now().After(c.expires) {
		return conn.Frame{}, false
	}
	return c.frame, true
}

func (b *Bus) evictExpired(ctx context.Context) {
	ticker := time.NewTicker(cacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for jobID, c := range b.cache {
				if now.After(c.expires) {
					delete(b.cache, jobID)
				}
			}
			b.mu.Unlock()
		}
	}
}
