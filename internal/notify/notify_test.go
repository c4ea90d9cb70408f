package notify

import (
	"testing"
	"time"

	"github.com/yungbote/gpuhub/internal/conn"
)

func TestLastUpdateReturnsCachedFrameBeforeExpiry(t *testing.T) {
	b := &Bus{cache: make(map[string]cachedUpdate)}
	frame := conn.Frame{Type: "job_update", Data: map[string]any{"job_id": "job-1"}}
	b.cache["job-1"] = cachedUpdate{frame: frame, expires: time.Now().Add(time.Minute)}

	got, ok := b.LastUpdate("job-1")
	if !ok {
		t.Fatalf("expected a cached update for job-1")
	}
	if got.Type != "job_update" {
		t.Fatalf("unexpected frame type %q", got.Type)
	}
}

func TestLastUpdateMissesAfterExpiry(t *testing.T) {
	b := &Bus{cache: make(map[string]cachedUpdate)}
	b.cache["job-1"] = cachedUpdate{frame: conn.Frame{Type: "job_update"}, expires: time.Now().Add(-time.Second)}

	if _, ok := b.LastUpdate("job-1"); ok {
		t.Fatalf("expected expired cache entry to be treated as a miss")
	}
}

func TestLastUpdateMissesForUnknownJob(t *testing.T) {
	b := &Bus{cache: make(map[string]cachedUpdate)}
	if _, ok := b.LastUpdate("never-seen"); ok {
		t.Fatalf("expected a miss for a job with no cached update")
	}
}
