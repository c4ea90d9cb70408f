package conn

import (
	"testing"

	"github.com/yungbote/gpuhub/internal/logger"
)

func mustManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(log)
}

func TestSubscribeJobFanOut(t *testing.T) {
	m := mustManager(t)
	c1 := m.AddClient("client-1")
	c2 := m.AddClient("client-2")
	m.SubscribeJob(c1, "job-1")
	m.SubscribeJob(c2, "job-1")

	m.BroadcastJobUpdate("job-1", Frame{Type: "job_update"})

	select {
	case f := <-c1.Outbound:
		if f.Type != "job_update" {
			t.Fatalf("unexpected frame type %q", f.Type)
		}
	default:
		t.Fatalf("expected client 1 to receive the job update")
	}
	select {
	case <-c2.Outbound:
	default:
		t.Fatalf("expected client 2 to receive the job update")
	}
}

func TestUnsubscribeJobStopsDelivery(t *testing.T) {
	m := mustManager(t)
	c := m.AddClient("client-1")
	m.SubscribeJob(c, "job-1")
	m.UnsubscribeJob(c, "job-1")

	m.BroadcastJobUpdate("job-1", Frame{Type: "job_update"})

	select {
	case f := <-c.Outbound:
		t.Fatalf("expected no frame after unsubscribe, got %v", f)
	default:
	}
}

func TestAddClientEvictsPriorConnectionWithSameID(t *testing.T) {
	m := mustManager(t)
	first := m.AddClient("client-1")
	second := m.AddClient("client-1")

	select {
	case <-first.Done():
	default:
		t.Fatalf("expected the first connection to be evicted on reconnect")
	}
	if second.ID != "client-1" {
		t.Fatalf("unexpected id on replacement client: %q", second.ID)
	}
}

func TestSendToClientEvictsOnFullBuffer(t *testing.T) {
	m := mustManager(t)
	c := m.AddClient("client-1")
	for i := 0; i < outboundBuffer+5; i++ {
		m.SendToClient(c, Frame{Type: "tick"})
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected client to be evicted once its outbound buffer filled")
	}
}

func TestNotifyEligibleWorkersOnlyDeliversToSubscribed(t *testing.T) {
	m := mustManager(t)
	w1 := m.AddWorker("worker-1")
	_ = m.AddWorker("worker-2")
	m.SetNotifySub(w1, true)

	sent := m.NotifyEligibleWorkers([]string{"worker-1", "worker-2"}, Frame{Type: "job_available"})
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	select {
	case <-w1.Outbound:
	default:
		t.Fatalf("expected worker-1 to receive job_available")
	}
}
