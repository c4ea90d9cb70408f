package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/gpuhub/internal/apierr"
	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/model"
	"github.com/yungbote/gpuhub/internal/store"
)

func redisIntegrationEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GPUHUB_RUN_REDIS_INTEGRATION")), "true")
}

func mustTestRegistry(t *testing.T) *Registry {
	t.Helper()
	addr := os.Getenv("GPUHUB_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	st, err := store.New(log, store.Options{Addr: addr})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(log, st)
}

func TestHeartbeatForUnknownWorkerIsRejected(t *testing.T) {
	if !redisIntegrationEnabled() {
		t.Skip("set GPUHUB_RUN_REDIS_INTEGRATION=true against a scratch redis to run this test")
	}
	reg := mustTestRegistry(t)
	ctx := context.Background()

	err := reg.Heartbeat(ctx, "never-registered-worker", "")
	if err == nil {
		t.Fatalf("expected heartbeat for an unknown worker to be rejected")
	}
	if !isWorkerNotFound(err) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestOutOfServiceWorkerOnlyReactivatesViaHeartbeat(t *testing.T) {
	if !redisIntegrationEnabled() {
		t.Skip("set GPUHUB_RUN_REDIS_INTEGRATION=true against a scratch redis to run this test")
	}
	reg := mustTestRegistry(t)
	ctx := context.Background()

	const workerID = "reactivation-test-worker"
	if _, err := reg.Register(ctx, workerID, "machine-1", "gpu-0"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.SetStatus(ctx, workerID, model.WorkerOutOfService); err != nil {
		t.Fatalf("SetStatus(out_of_service): %v", err)
	}

	// Directly attempting idle outside of Heartbeat must not reactivate it.
	if err := reg.SetStatus(ctx, workerID, model.WorkerIdle); err != nil {
		t.Fatalf("SetStatus(idle): %v", err)
	}
	w, err := reg.Get(ctx, workerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Status != model.WorkerOutOfService {
		t.Fatalf("expected status to remain out_of_service, got %q", w.Status)
	}

	// A fresh heartbeat with status=idle is the one path that reactivates it.
	if err := reg.Heartbeat(ctx, workerID, model.WorkerIdle); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	w, err = reg.Get(ctx, workerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Status != model.WorkerIdle {
		t.Fatalf("expected heartbeat to reactivate worker to idle, got %q", w.Status)
	}
}

func TestSetBusyRecordsCurrentJobAndLeavesIdleSet(t *testing.T) {
	if !redisIntegrationEnabled() {
		t.Skip("set GPUHUB_RUN_REDIS_INTEGRATION=true against a scratch redis to run this test")
	}
	reg := mustTestRegistry(t)
	ctx := context.Background()

	const workerID = "busy-on-claim-test-worker"
	if _, err := reg.Register(ctx, workerID, "machine-1", "gpu-0"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.SetBusy(ctx, workerID, "job-123"); err != nil {
		t.Fatalf("SetBusy: %v", err)
	}
	w, err := reg.Get(ctx, workerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Status != model.WorkerBusy {
		t.Fatalf("expected status busy, got %q", w.Status)
	}
	if w.CurrentJob != "job-123" {
		t.Fatalf("expected current_job to be recorded, got %q", w.CurrentJob)
	}

	ids, err := reg.FreshIdleWorkerIDs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("FreshIdleWorkerIDs: %v", err)
	}
	for _, id := range ids {
		if id == workerID {
			t.Fatalf("busy worker must not remain in the idle set")
		}
	}

	if err := reg.SetStatus(ctx, workerID, model.WorkerIdle); err != nil {
		t.Fatalf("SetStatus(idle): %v", err)
	}
	w, err = reg.Get(ctx, workerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.CurrentJob != "" {
		t.Fatalf("expected current_job to be cleared on leaving busy, got %q", w.CurrentJob)
	}
}

func isWorkerNotFound(err error) bool {
	ae, ok := err.(*apierr.Error)
	return ok && ae.Sentinel == apierr.ErrWorkerNotFound
}
