// Package proto is the Protocol Dispatcher: it defines the client and
// worker message envelopes, the registry of recognized message types for
// each endpoint, and the error-frame shape used when a frame fails to
// parse or names an unknown type. Decoding failures never close the
// connection — they produce an error frame and the socket stays open,
// mirroring how the nixfleet-style dashboard hub this is grounded on
// tolerates malformed browser frames in handleBrowserMessage.
package proto

import "encoding/json"

// Envelope is the wire shape every inbound frame is first decoded into;
// Payload is re-decoded against a concrete struct once Type is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client message types (§6).
const (
	MsgSubmitJob      = "submit_job"
	MsgGetJobStatus   = "get_job_status"
	MsgSubscribeJob   = "subscribe_job"
	MsgUnsubscribeJob = "unsubscribe_job"
	MsgSubscribeStats = "subscribe_stats"
	MsgGetStats       = "get_stats"
)

// Worker message types (§6).
const (
	MsgRegisterWorker           = "register_worker"
	MsgWorkerHeartbeat          = "worker_heartbeat"
	MsgSubscribeJobNotifications = "subscribe_job_notifications"
	MsgGetNextJob               = "get_next_job"
	MsgClaimJob                 = "claim_job"
	MsgUpdateJobProgress        = "update_job_progress"
	MsgCompleteJob              = "complete_job"
	MsgFailJob                  = "fail_job"
)

var clientTypes = map[string]bool{
	MsgSubmitJob:      true,
	MsgGetJobStatus:   true,
	MsgSubscribeJob:   true,
	MsgUnsubscribeJob: true,
	MsgSubscribeStats: true,
	MsgGetStats:       true,
}

var workerTypes = map[string]bool{
	MsgRegisterWorker:            true,
	MsgWorkerHeartbeat:           true,
	MsgSubscribeJobNotifications: true,
	MsgGetNextJob:                true,
	MsgClaimJob:                  true,
	MsgUpdateJobProgress:         true,
	MsgCompleteJob:               true,
	MsgFailJob:                   true,
}

func IsClientType(t string) bool { return clientTypes[t] }
func IsWorkerType(t string) bool { return workerTypes[t] }

// Request payloads, one per message type that carries fields. Field names
// mirror the literal tables in §6 of the spec, including the redundant
// machine_id/gpu_id carried on progress/complete/fail frames (a legacy
// artifact of the pull-path protocol that coexists with worker_id-keyed
// connections; the connection's own worker_id is authoritative, these are
// accepted but never read, echoed, or used to recompute identity).
type SubmitJobPayload struct {
	JobType  string         `json:"job_type"`
	Priority int            `json:"priority"`
	Payload  map[string]any `json:"payload"`
}

type GetJobStatusPayload struct {
	JobID string `json:"job_id"`
}

type SubscribeJobPayload struct {
	JobID string `json:"job_id"`
}

type SubscribeStatsPayload struct {
	Enabled bool `json:"enabled"`
}

type RegisterWorkerPayload struct {
	MachineID string `json:"machine_id"`
	GPUID     string `json:"gpu_id"`
}

type WorkerHeartbeatPayload struct {
	WorkerID string  `json:"worker_id"`
	Status   string  `json:"status,omitempty"`
	Load     float64 `json:"load,omitempty"`
}

type SubscribeJobNotificationsPayload struct {
	WorkerID string `json:"worker_id"`
	Enabled  bool   `json:"enabled"`
}

type GetNextJobPayload struct {
	MachineID string `json:"machine_id"`
	GPUID     string `json:"gpu_id"`
}

type ClaimJobPayload struct {
	WorkerID     string `json:"worker_id"`
	JobID        string `json:"job_id"`
	ClaimTimeout int    `json:"claim_timeout,omitempty"`
}

// UpdateJobProgressPayload carries machine_id/gpu_id per §6's literal table
// and a status field that the spec (§9) says is advisory only: the
// dispatcher neither writes nor echoes it; the fan-out carries the job's
// own status.
type UpdateJobProgressPayload struct {
	JobID     string `json:"job_id"`
	MachineID string `json:"machine_id,omitempty"`
	GPUID     string `json:"gpu_id,omitempty"`
	Progress  int    `json:"progress"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

type CompleteJobPayload struct {
	JobID     string         `json:"job_id"`
	MachineID string         `json:"machine_id,omitempty"`
	GPUID     string         `json:"gpu_id,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

type FailJobPayload struct {
	JobID     string `json:"job_id"`
	MachineID string `json:"machine_id,omitempty"`
	GPUID     string `json:"gpu_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorFrame is sent back for a malformed envelope or an unrecognized type.
type ErrorFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Decode parses raw bytes into an Envelope, returning an error rather than
// panicking on malformed JSON so the caller can emit an ErrorFrame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
