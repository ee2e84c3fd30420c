package scheduler

import "time"

// CurrentOperation describes the in-flight operation at the moment a
// status snapshot was taken, or is nil when the entity is idle.
type CurrentOperation struct {
	Operation        string    `json:"operation"`
	ID               string    `json:"id"`
	ParentInstanceID string    `json:"parentInstanceId"`
	StartTime        time.Time `json:"startTime"`
}

// Status is the bounded, O(1)-size diagnostic snapshot for an entity.
// It never embeds entityState or queued payloads, so its size does not
// grow with workload.
type Status struct {
	EntityExists     bool              `json:"entityExists"`
	QueueSize        int               `json:"queueSize"`
	LockedBy         string            `json:"lockedBy"`
	LockedSince      *time.Time        `json:"lockedSince,omitempty"`
	CurrentOperation *CurrentOperation `json:"currentOperation"`
}

// BuildStatus projects state and the operation in flight (if any) into
// the bounded diagnostic snapshot. current is nil between batches.
func BuildStatus(state State, current *CurrentOperation) Status {
	return Status{
		EntityExists:     state.EntityExists,
		QueueSize:        len(state.Queue),
		LockedBy:         state.LockedBy,
		LockedSince:      state.LockedSince,
		CurrentOperation: current,
	}
}
