package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/model"
)

func redisIntegrationEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GPUHUB_RUN_REDIS_INTEGRATION")), "true")
}

func mustTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("GPUHUB_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	st, err := New(log, Options{Addr: addr})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestJobClaimIsExactlyOneWinner(t *testing.T) {
	if !redisIntegrationEnabled() {
		t.Skip("set GPUHUB_RUN_REDIS_INTEGRATION=true against a scratch redis to run this test")
	}
	st := mustTestStore(t)
	ctx := context.Background()

	job := &model.Job{ID: "race-job", Type: "render", Status: model.JobPending, CreatedAt: time.Now()}
	if err := st.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	const racers = 20
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		go func(n int) {
			won, err := st.TryClaim(ctx, job.ID, "worker-race", 30*time.Second)
			if err != nil {
				wins <- false
				return
			}
			wins <- won
		}(i)
	}

	winners := 0
	for i := 0; i < racers; i++ {
		if <-wins {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestRevertIfStatusIsNoopOnceJobProgressed(t *testing.T) {
	if !redisIntegrationEnabled() {
		t.Skip("set GPUHUB_RUN_REDIS_INTEGRATION=true against a scratch redis to run this test")
	}
	st := mustTestStore(t)
	ctx := context.Background()

	job := &model.Job{ID: "progressed-job", Type: "render", Status: model.JobClaimed, CreatedAt: time.Now()}
	if err := st.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	if err := st.UpdateJobFields(ctx, job.ID, map[string]any{"status": string(model.JobProcessing)}); err != nil {
		t.Fatalf("UpdateJobFields: %v", err)
	}

	reverted, err := st.RevertIfStatus(ctx, job.ID, model.JobClaimed)
	if err != nil {
		t.Fatalf("RevertIfStatus: %v", err)
	}
	if reverted {
		t.Fatalf("expected revert to be a no-op once the job moved past claimed")
	}
}

func TestPriorityQueueTieBreaksLexicographically(t *testing.T) {
	if !redisIntegrationEnabled() {
		t.Skip("set GPUHUB_RUN_REDIS_INTEGRATION=true against a scratch redis to run this test")
	}
	st := mustTestStore(t)
	ctx := context.Background()

	if err := st.PushPriority(ctx, "job-b", 5); err != nil {
		t.Fatalf("PushPriority: %v", err)
	}
	if err := st.PushPriority(ctx, "job-a", 5); err != nil {
		t.Fatalf("PushPriority: %v", err)
	}

	first, err := st.PopPriority(ctx)
	if err != nil {
		t.Fatalf("PopPriority: %v", err)
	}
	if first != "job-b" {
		t.Fatalf("expected ZPOPMAX to prefer the lexicographically later id on a tie, got %q", first)
	}
}
