// Package ws wires gorilla/websocket onto gin routes for the hub's two
// endpoints: /ws/client/:client_id and /ws/worker/:worker_id (plus the
// legacy composite /ws/worker/:machine_id/:gpu_id form). The read/write
// pump shape — read deadline refreshed on every pong, a ticker-driven
// ping, writes funneled through a single goroutine per connection — is
// grounded on the nixfleet-style dashboard hub's Client.readPump/writePump
// in the retrieval pack (other_examples), since neither the teacher nor
// any other example repo implements a raw WebSocket server.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yungbote/gpuhub/internal/apierr"
	"github.com/yungbote/gpuhub/internal/conn"
	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/model"
	"github.com/yungbote/gpuhub/internal/notify"
	"github.com/yungbote/gpuhub/internal/proto"
	"github.com/yungbote/gpuhub/internal/queue"
	"github.com/yungbote/gpuhub/internal/registry"
	"github.com/yungbote/gpuhub/internal/stats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The hub serves both browser clients and worker agents from arbitrary
	// hosts; origin policy is enforced upstream by the deployment's ingress.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Endpoint struct {
	log                 *logger.Logger
	cm                  *conn.Manager
	q                   *queue.Manager
	reg                 *registry.Registry
	nb                  *notify.Bus
	sb                  *stats.Broadcaster
	defaultClaimTimeout time.Duration
	idleFreshness       time.Duration
}

func New(log *logger.Logger, cm *conn.Manager, q *queue.Manager, reg *registry.Registry, nb *notify.Bus, sb *stats.Broadcaster, defaultClaimTimeout, idleFreshness time.Duration) *Endpoint {
	return &Endpoint{
		log:                 log.With("component", "WebSocketTransport"),
		cm:                  cm,
		q:                   q,
		reg:                 reg,
		nb:                  nb,
		sb:                  sb,
		defaultClaimTimeout: defaultClaimTimeout,
		idleFreshness:       idleFreshness,
	}
}

// HandleClient upgrades the request and serves the client protocol for the
// connection's lifetime.
func (e *Endpoint) HandleClient(c *gin.Context) {
	clientID := c.Param("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id required"})
		return
	}
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.log.Warn("client websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}
	client := e.cm.AddClient(clientID)
	e.log.Info("client connected", "client_id", clientID)
	e.cm.SendToClient(client, conn.Frame{Type: "connection_established", Data: gin.H{"client_id": clientID}})

	go e.clientWritePump(sock, client)
	e.clientReadPump(sock, client)
}

// HandleWorker upgrades the request and serves the worker protocol. The
// worker_id is either the single :worker_id route param or, for the
// legacy composite form, derived from :machine_id and :gpu_id.
func (e *Endpoint) HandleWorker(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		machineID := c.Param("machine_id")
		gpuID := c.Param("gpu_id")
		if machineID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required"})
			return
		}
		workerID = model.WorkerID(machineID, gpuID)
	}
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.log.Warn("worker websocket upgrade failed", "worker_id", workerID, "error", err)
		return
	}
	worker := e.cm.AddWorker(workerID)
	e.log.Info("worker connected", "worker_id", workerID)
	e.cm.SendToWorker(worker, conn.Frame{Type: "connection_established", Data: gin.H{"worker_id": workerID}})

	go e.workerWritePump(sock, worker)
	e.workerReadPump(sock, worker, workerID)
}

func (e *Endpoint) clientReadPump(sock *websocket.Conn, client *conn.Client) {
	defer func() {
		e.cm.RemoveClient(client)
		_ = sock.Close()
		e.log.Info("client disconnected", "client_id", client.ID)
	}()

	sock.SetReadLimit(maxMessageSize)
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		_ = sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				e.log.Warn("client read error", "client_id", client.ID, "error", err)
			}
			return
		}
		e.dispatchClient(client, raw)
	}
}

func (e *Endpoint) workerReadPump(sock *websocket.Conn, worker *conn.Worker, workerID string) {
	defer func() {
		e.cm.RemoveWorker(worker)
		_ = sock.Close()
		// §3: "disconnected on socket close" — mark it now rather than
		// leaving it in workers:idle as a notification target until the
		// 120s stale-worker sweep catches the lapsed heartbeat.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.reg.SetStatus(ctx, workerID, model.WorkerDisconnected); err != nil {
			e.log.Warn("post-disconnect status update failed", "worker_id", workerID, "error", err)
		}
		cancel()
		e.log.Info("worker disconnected", "worker_id", workerID)
	}()

	sock.SetReadLimit(maxMessageSize)
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		_ = sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				e.log.Warn("worker read error", "worker_id", workerID, "error", err)
			}
			return
		}
		e.dispatchWorker(worker, workerID, raw)
	}
}

func (e *Endpoint) clientWritePump(sock *websocket.Conn, client *conn.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sock.Close()
	}()
	for {
		select {
		case <-client.Done():
			return
		case frame, ok := <-client.Outbound:
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sock.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (e *Endpoint) workerWritePump(sock *websocket.Conn, worker *conn.Worker) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sock.Close()
	}()
	for {
		select {
		case <-worker.Done():
			return
		case frame, ok := <-worker.Outbound:
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sock.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (e *Endpoint) sendError(toClient *conn.Client, toWorker *conn.Worker, message string) {
	frame := conn.Frame{Type: "error", Data: proto.ErrorFrame{Error: message}}
	if toClient != nil {
		e.cm.SendToClient(toClient, frame)
	}
	if toWorker != nil {
		e.cm.SendToWorker(toWorker, frame)
	}
}

func (e *Endpoint) dispatchClient(client *conn.Client, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := proto.Decode(raw)
	if err != nil {
		e.sendError(client, nil, "malformed frame: "+err.Error())
		return
	}
	if !proto.IsClientType(env.Type) {
		e.sendError(client, nil, "unrecognized message type: "+env.Type)
		return
	}

	switch env.Type {
	case proto.MsgSubmitJob:
		var p proto.SubmitJobPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(client, nil, "malformed submit_job payload")
			return
		}
		job, position, err := e.q.Enqueue(ctx, p.JobType, p.Priority, p.Payload, client.ID)
		if err != nil {
			e.sendError(client, nil, "submit_job failed: "+err.Error())
			return
		}
		e.cm.SubscribeJob(client, job.ID)
		notified := 0
		if ids, err := e.reg.FreshIdleWorkerIDs(ctx, e.idleFreshness); err != nil {
			e.log.Warn("counting notified workers failed", "job_id", job.ID, "error", err)
		} else {
			notified = len(ids)
		}
		e.cm.SendToClient(client, conn.Frame{Type: "job_accepted", Data: gin.H{
			"job_id": job.ID, "status": job.Status, "position": position, "notified_workers": notified,
		}})

	case proto.MsgGetJobStatus:
		var p proto.GetJobStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(client, nil, "malformed get_job_status payload")
			return
		}
		job, err := e.q.Get(ctx, p.JobID)
		if err != nil {
			e.sendError(client, nil, "job not found: "+p.JobID)
			return
		}
		e.cm.SubscribeJob(client, p.JobID)
		e.cm.SendToClient(client, conn.Frame{Type: "job_status", Data: job})

	case proto.MsgSubscribeJob:
		var p proto.SubscribeJobPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(client, nil, "malformed subscribe_job payload")
			return
		}
		e.cm.SubscribeJob(client, p.JobID)
		if frame, ok := e.nb.LastUpdate(p.JobID); ok {
			e.cm.SendToClient(client, frame)
		}

	case proto.MsgUnsubscribeJob:
		var p proto.SubscribeJobPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(client, nil, "malformed unsubscribe_job payload")
			return
		}
		e.cm.UnsubscribeJob(client, p.JobID)

	case proto.MsgSubscribeStats:
		var p proto.SubscribeStatsPayload
		_ = json.Unmarshal(env.Payload, &p)
		e.cm.SetStatsSub(client, p.Enabled)
		if p.Enabled {
			snap, err := e.sb.Collect(ctx)
			if err != nil {
				e.sendError(client, nil, "subscribe_stats failed: "+err.Error())
				return
			}
			e.cm.SendToClient(client, conn.Frame{Type: "stats_response", Data: snap})
		}

	case proto.MsgGetStats:
		snap, err := e.sb.Collect(ctx)
		if err != nil {
			e.sendError(client, nil, "get_stats failed: "+err.Error())
			return
		}
		e.cm.SendToClient(client, conn.Frame{Type: "stats_response", Data: snap})
	}
}

func (e *Endpoint) dispatchWorker(worker *conn.Worker, workerID string, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := proto.Decode(raw)
	if err != nil {
		e.sendError(nil, worker, "malformed frame: "+err.Error())
		return
	}
	if !proto.IsWorkerType(env.Type) {
		e.sendError(nil, worker, "unrecognized message type: "+env.Type)
		return
	}

	switch env.Type {
	case proto.MsgRegisterWorker:
		var p proto.RegisterWorkerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(nil, worker, "malformed register_worker payload")
			return
		}
		if _, err := e.reg.Register(ctx, workerID, p.MachineID, p.GPUID); err != nil {
			e.sendError(nil, worker, "register_worker failed: "+err.Error())
			return
		}
		// The registry's internal lifecycle starts a registered worker at
		// idle (§3); "active" here is just the protocol's ack status, not a
		// worker.Status value — it only confirms the record now exists.
		e.cm.SendToWorker(worker, conn.Frame{Type: "worker_registered", Data: gin.H{
			"worker_id": workerID, "status": "active",
		}})

	case proto.MsgWorkerHeartbeat:
		var p proto.WorkerHeartbeatPayload
		_ = json.Unmarshal(env.Payload, &p)
		// p.Load is advisory (§6) and has no gauge to feed yet; accepted and
		// ignored rather than rejected as an unknown field.
		if err := e.reg.Heartbeat(ctx, workerID, model.WorkerStatus(p.Status)); err != nil {
			e.sendError(nil, worker, "heartbeat rejected: "+err.Error())
		}

	case proto.MsgSubscribeJobNotifications:
		var p proto.SubscribeJobNotificationsPayload
		_ = json.Unmarshal(env.Payload, &p)
		e.cm.SetNotifySub(worker, p.Enabled)

	case proto.MsgGetNextJob:
		job, err := e.q.Dequeue(ctx, workerID)
		if err != nil {
			e.sendError(nil, worker, "get_next_job failed: "+err.Error())
			return
		}
		if job == nil {
			e.cm.SendToWorker(worker, conn.Frame{Type: "no_job"})
			return
		}
		e.cm.SendToWorker(worker, conn.Frame{Type: "job_assigned", Data: job})

	case proto.MsgClaimJob:
		var p proto.ClaimJobPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(nil, worker, "malformed claim_job payload")
			return
		}
		timeout := e.defaultClaimTimeout
		if p.ClaimTimeout > 0 {
			timeout = time.Duration(p.ClaimTimeout) * time.Second
		}
		job, won, err := e.q.Claim(ctx, p.JobID, workerID, timeout)
		if err != nil {
			if errors.Is(err, apierr.ErrJobNotFound) {
				e.cm.SendToWorker(worker, conn.Frame{Type: "job_claimed", Data: gin.H{
					"job_id": p.JobID, "worker_id": workerID, "success": false, "message": "job not found",
				}})
				return
			}
			e.sendError(nil, worker, "claim_job failed: "+err.Error())
			return
		}
		if !won {
			e.cm.SendToWorker(worker, conn.Frame{Type: "job_claimed", Data: gin.H{
				"job_id": p.JobID, "worker_id": workerID, "success": false, "message": "claim lost the race",
			}})
			return
		}
		if err := e.reg.SetBusy(ctx, workerID, job.ID); err != nil {
			e.log.Warn("post-claim status update failed", "worker_id", workerID, "job_id", job.ID, "error", err)
		}
		e.cm.SendToWorker(worker, conn.Frame{Type: "job_claimed", Data: gin.H{
			"job_id": job.ID, "worker_id": workerID, "success": true, "job_data": job,
		}})

	case proto.MsgUpdateJobProgress:
		var p proto.UpdateJobProgressPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(nil, worker, "malformed update_job_progress payload")
			return
		}
		if err := e.q.Progress(ctx, p.JobID, p.Progress, workerID, p.Message); err != nil {
			e.sendError(nil, worker, "update_job_progress failed: "+err.Error())
		}

	case proto.MsgCompleteJob:
		var p proto.CompleteJobPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(nil, worker, "malformed complete_job payload")
			return
		}
		if err := e.q.Complete(ctx, p.JobID, workerID, p.Result); err != nil {
			e.sendError(nil, worker, "complete_job failed: "+err.Error())
			return
		}
		if err := e.reg.SetStatus(ctx, workerID, model.WorkerIdle); err != nil {
			e.log.Warn("post-complete status update failed", "worker_id", workerID, "error", err)
		}

	case proto.MsgFailJob:
		var p proto.FailJobPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.sendError(nil, worker, "malformed fail_job payload")
			return
		}
		if err := e.q.Fail(ctx, p.JobID, workerID, p.Error); err != nil {
			e.sendError(nil, worker, "fail_job failed: "+err.Error())
			return
		}
		if err := e.reg.SetStatus(ctx, workerID, model.WorkerIdle); err != nil {
			e.log.Warn("post-fail status update failed", "worker_id", workerID, "error", err)
		}
	}
}
