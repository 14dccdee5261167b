package backup

import (
	"github.com/Sandiman184/e-raport/internal/storage"
)

// Trigger records why a snapshot was taken.
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerScheduled  Trigger = "scheduled"
	TriggerPreRestore Trigger = "pre-restore"
	TriggerPrePrune   Trigger = "pre-prune"
	TriggerPreReset   Trigger = "pre-reset"
)

// BuildOptions selects what a snapshot contains. An empty Year means a full
// copy.
type BuildOptions struct {
	Description string
	Year        string
	Trigger     Trigger
}

// Built is a verified snapshot plus anything that went wrong after it was
// already safe on disk, such as a failed offsite upload.
type Built struct {
	storage.Snapshot
	Warnings []string `json:"warnings,omitempty"`
}

// Restored describes a completed restore.
type Restored struct {
	Source         string   `json:"source"`
	Bytes          int64    `json:"bytes"`
	SafetySnapshot string   `json:"safety_snapshot,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}
