// Package notify tells operators about destructive lifecycle actions.
package notify

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Event describes one finished lifecycle operation.
type Event struct {
	Status         Status        `json:"status"`
	Operation      string        `json:"operation"` // Prune, Reset, Restore, Snapshot, Delete snapshot
	Target         string        `json:"target,omitempty"`
	Detail         string        `json:"detail,omitempty"`
	Actor          string        `json:"actor,omitempty"`
	SafetySnapshot string        `json:"safety_snapshot,omitempty"`
	Size           int64         `json:"size,omitempty"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
	OperationID    string        `json:"operation_id,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// MultiNotifier fans an event out to every notifier and joins their errors.
type MultiNotifier struct {
	Notifiers []Notifier
}

func (m *MultiNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m.Notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
