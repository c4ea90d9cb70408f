// Package conn is the Connection Manager: it tracks the live WebSocket for
// every connected client and worker, plus the in-memory subscription maps
// (per-job, stats, job-notifications) that route outbound frames. It is
// shaped directly on the teacher's SSE hub (internal/sse.SSEHub) —
// mutex-guarded maps, a buffered outbound channel per connection, and
// eviction of a connection the moment a send to it fails, rather than
// holding a lock across a socket write.
package conn

import (
	"sync"

	"github.com/yungbote/gpuhub/internal/logger"
)

// Frame is the envelope written to every outbound channel; transport glue
// marshals it to JSON over the socket.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client wraps one connected client's outbound channel and its live
// subscriptions.
type Client struct {
	ID       string
	Outbound chan Frame
	done     chan struct{}

	mu         sync.Mutex
	jobSubs    map[string]bool
	statsSub   bool
}

// Worker wraps one connected worker's outbound channel and its
// job_notifications subscription flag.
type Worker struct {
	ID       string
	Outbound chan Frame
	done     chan struct{}

	mu        sync.Mutex
	notifySub bool
}

const outboundBuffer = 32

type Manager struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	workers map[string]*Worker

	// jobSubscribers indexes clients by job_id for O(subscribers) fan-out
	// instead of scanning every connected client per job_updates message.
	jobSubscribers map[string]map[*Client]bool
}

func New(log *logger.Logger) *Manager {
	return &Manager{
		log:            log.With("component", "ConnectionManager"),
		clients:        make(map[string]*Client),
		workers:        make(map[string]*Worker),
		jobSubscribers: make(map[string]map[*Client]bool),
	}
}

// AddClient registers a new client connection, replacing any prior
// connection under the same id (a reconnect evicts the stale one).
func (m *Manager) AddClient(clientID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.clients[clientID]; ok {
		m.removeClientLocked(old)
	}
	c := &Client{
		ID:       clientID,
		Outbound: make(chan Frame, outboundBuffer),
		done:     make(chan struct{}),
		jobSubs:  make(map[string]bool),
	}
	m.clients[clientID] = c
	return c
}

// AddWorker registers a new worker connection, replacing any prior one.
func (m *Manager) AddWorker(workerID string) *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.workers[workerID]; ok {
		m.removeWorkerLocked(old)
	}
	w := &Worker{
		ID:       workerID,
		Outbound: make(chan Frame, outboundBuffer),
		done:     make(chan struct{}),
	}
	m.workers[workerID] = w
	return w
}

func (m *Manager) RemoveClient(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeClientLocked(c)
}

func (m *Manager) removeClientLocked(c *Client) {
	if current, ok := m.clients[c.ID]; ok && current == c {
		delete(m.clients, c.ID)
	}
	c.mu.Lock()
	jobs := make([]string, 0, len(c.jobSubs))
	for jobID := range c.jobSubs {
		jobs = append(jobs, jobID)
	}
	c.mu.Unlock()
	for _, jobID := range jobs {
		if subs, ok := m.jobSubscribers[jobID]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(m.jobSubscribers, jobID)
			}
		}
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (m *Manager) RemoveWorker(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeWorkerLocked(w)
}

func (m *Manager) removeWorkerLocked(w *Worker) {
	if current, ok := m.workers[w.ID]; ok && current == w {
		delete(m.workers, w.ID)
	}
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

// SubscribeJob records that client is interested in job_id's updates.
func (m *Manager) SubscribeJob(c *Client, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.mu.Lock()
	c.jobSubs[jobID] = true
	c.mu.Unlock()
	subs, ok := m.jobSubscribers[jobID]
	if !ok {
		subs = make(map[*Client]bool)
		m.jobSubscribers[jobID] = subs
	}
	subs[c] = true
}

func (m *Manager) UnsubscribeJob(c *Client, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.mu.Lock()
	delete(c.jobSubs, jobID)
	c.mu.Unlock()
	if subs, ok := m.jobSubscribers[jobID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(m.jobSubscribers, jobID)
		}
	}
}

func (m *Manager) SetStatsSub(c *Client, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsSub = on
}

func (m *Manager) SetNotifySub(w *Worker, on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notifySub = on
}

// SendToClient enqueues frame on the client's outbound channel. A full
// buffer means the client is not draining fast enough; the connection is
// evicted rather than blocking the caller, matching the teacher hub's
// drop-and-log behavior under backpressure.
func (m *Manager) SendToClient(c *Client, frame Frame) {
	select {
	case c.Outbound <- frame:
	default:
		m.log.Warn("dropping frame, client outbound buffer full, evicting", "client_id", c.ID, "frame_type", frame.Type)
		m.RemoveClient(c)
	}
}

func (m *Manager) SendToWorker(w *Worker, frame Frame) {
	select {
	case w.Outbound <- frame:
	default:
		m.log.Warn("dropping frame, worker outbound buffer full, evicting", "worker_id", w.ID, "frame_type", frame.Type)
		m.RemoveWorker(w)
	}
}

// BroadcastJobUpdate fans a frame out to every client subscribed to jobID.
func (m *Manager) BroadcastJobUpdate(jobID string, frame Frame) {
	m.mu.RLock()
	subs := m.jobSubscribers[jobID]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	m.mu.RUnlock()
	for _, c := range targets {
		m.SendToClient(c, frame)
	}
}

// BroadcastStats fans a frame out to every client with an active stats
// subscription.
func (m *Manager) BroadcastStats(frame Frame) {
	m.mu.RLock()
	targets := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		targets = append(targets, c)
	}
	m.mu.RUnlock()
	for _, c := range targets {
		c.mu.Lock()
		subscribed := c.statsSub
		c.mu.Unlock()
		if subscribed {
			m.SendToClient(c, frame)
		}
	}
}

// NotifyEligibleWorkers fans a job_available frame out to every worker with
// an active job_notifications subscription, drawn from the supplied id set
// (the Notification Bus computes idle+fresh membership, this just delivers).
func (m *Manager) NotifyEligibleWorkers(workerIDs []string, frame Frame) int {
	m.mu.RLock()
	targets := make([]*Worker, 0, len(workerIDs))
	for _, id := range workerIDs {
		if w, ok := m.workers[id]; ok {
			targets = append(targets, w)
		}
	}
	m.mu.RUnlock()
	sent := 0
	for _, w := range targets {
		w.mu.Lock()
		subscribed := w.notifySub
		w.mu.Unlock()
		if subscribed {
			m.SendToWorker(w, frame)
			sent++
		}
	}
	return sent
}

// Done returns the client's close signal, used by transport glue to end
// its write pump when the connection is evicted from elsewhere.
func (c *Client) Done() <-chan struct{} { return c.done }
func (w *Worker) Done() <-chan struct{} { return w.done }

// ClientCount and WorkerCount back the stats broadcaster's connection gauges.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Manager) WorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}
