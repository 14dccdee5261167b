// Package lifecycle serializes every operation that writes the live store or
// the snapshot directory: snapshots, restores, prune and reset. Each
// destructive operation is previewed, confirmed, preceded by a safety
// snapshot and audited.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/db"
)

type Operation string

const (
	OpSnapshot Operation = "snapshot"
	OpRestore  Operation = "restore"
	OpPrune    Operation = "prune"
	OpReset    Operation = "reset"
	OpDelete   Operation = "delete"
)

// Confirmation tokens. Prune and reset use different words on purpose.
const (
	ConfirmPrune = "YES"
	ConfirmReset = "RESET"
)

type Status string

const (
	StatusCommitted   Status = "committed"
	StatusNothingToDo Status = "nothing_to_do"
)

// Result is returned by every operation that did not fail.
type Result struct {
	OperationID    string           `json:"operation_id"`
	Operation      Operation        `json:"operation"`
	Status         Status           `json:"status"`
	Message        string           `json:"message"`
	Counts         map[string]int64 `json:"counts,omitempty"`
	SafetySnapshot string           `json:"safety_snapshot,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

type Risk string

const (
	RiskHigh Risk = "HIGH"
	RiskNone Risk = "NONE"
)

// ScopeAll is the scope label of a full reset.
const ScopeAll = "all"

// ImpactReport previews what a prune or reset would delete. It is computed
// on demand and never stored.
type ImpactReport struct {
	Scope   string           `json:"scope"`
	Counts  map[string]int64 `json:"counts"`
	Total   int64            `json:"total"`
	Risk    Risk             `json:"risk"`
	Details []string         `json:"details"`
}

var detailOrder = []string{db.TableStudents, db.TableGrades, db.TableReportRecords}

// countDetail renders counts as "3 students, 7 grades, 2 reports", skipping
// tables that were not touched.
func countDetail(counts map[string]int64) string {
	parts := make([]string, 0, len(detailOrder))
	for _, t := range detailOrder {
		n, ok := counts[t]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, tableNoun(t)))
	}
	return strings.Join(parts, ", ")
}

func tableNoun(table string) string {
	if table == db.TableReportRecords {
		return "reports"
	}
	return table
}

func actorLabel(a audit.Actor) string {
	if a.UserID == nil {
		return "system"
	}
	return fmt.Sprintf("user:%d", *a.UserID)
}
