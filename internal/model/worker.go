package model

import "time"

type WorkerStatus string

const (
	WorkerIdle          WorkerStatus = "idle"
	WorkerBusy          WorkerStatus = "busy"
	WorkerDisconnected  WorkerStatus = "disconnected"
	WorkerOutOfService  WorkerStatus = "out_of_service"
)

// Worker is the persistent record for one GPU executor.
type Worker struct {
	ID        string `json:"id"`
	MachineID string `json:"machine_id"`
	GPUID     string `json:"gpu_id"`

	Status WorkerStatus `json:"status"`

	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	CurrentJob string `json:"current_job,omitempty"`
}

// WorkerID composes the conventional "machine:gpu" identity used by the
// legacy get_next_job path; the id is otherwise treated opaque.
func WorkerID(machineID, gpuID string) string {
	if gpuID == "" {
		return machineID
	}
	return machineID + ":" + gpuID
}
