package store

import "fmt"

// Key layout, per the external interface spec: hashes for job/worker
// records, a FIFO list for standard jobs, a sorted set for priority jobs,
// sets for worker bookkeeping, and three pub/sub channels.
const (
	keyJobQueue      = "job_queue"
	keyPriorityQueue = "priority_queue"
	keyWorkersAll    = "workers:all"
	keyWorkersIdle   = "workers:idle"

	ChannelJobUpdates      = "job_updates"
	ChannelJobNotifications = "job_notifications"
)

func jobKey(id string) string    { return fmt.Sprintf("job:%s", id) }
func workerKey(id string) string { return fmt.Sprintf("worker:%s", id) }

// ChannelJobUpdatesFor returns the per-job update channel, job_updates:{id}.
func ChannelJobUpdatesFor(jobID string) string {
	return fmt.Sprintf("%s:%s", ChannelJobUpdates, jobID)
}
