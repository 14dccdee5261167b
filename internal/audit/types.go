// Package audit records destructive lifecycle actions. Entries go to the
// audit_logs table of the live store and to a hash-chained journal kept
// next to the snapshots, which survives a restore that replaces the table.
package audit

import "time"

type Action string

const (
	ActionPrune   Action = "PRUNE_DATA"
	ActionReset   Action = "RESET_DATA"
	ActionRestore Action = "RESTORE_BACKUP"
	ActionDelete  Action = "DELETE_BACKUP"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Entry is one audited attempt. ActorID is nil for system actions.
type Entry struct {
	ID          int64     `json:"id,omitempty"`
	ActorID     *int64    `json:"actor_id,omitempty"`
	Action      Action    `json:"action"`
	Target      string    `json:"target,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	OperationID string    `json:"operation_id,omitempty"`
}

// Actor identifies who asked for an operation.
type Actor struct {
	UserID    *int64
	IPAddress string
}

// System is the actor used by scheduled jobs.
var System = Actor{}

// UserActor is a convenience for an authenticated user id.
func UserActor(id int64, ip string) Actor {
	return Actor{UserID: &id, IPAddress: ip}
}
