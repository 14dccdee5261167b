package lifecycle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Sandiman184/e-raport/internal/audit"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
)

type State string

const (
	StateRequested State = "REQUESTED"
	StateAnalyzed  State = "ANALYZED"
	StateConfirmed State = "CONFIRMED"
	StateExecuting State = "EXECUTING"
	StateCommitted State = "COMMITTED"
	StateFailed    State = "FAILED"
)

// CONFIRMED may go straight to COMMITTED when the analysis found nothing
// to delete.
var transitions = map[State][]State{
	StateRequested: {StateAnalyzed, StateFailed},
	StateAnalyzed:  {StateConfirmed, StateFailed},
	StateConfirmed: {StateExecuting, StateCommitted, StateFailed},
	StateExecuting: {StateCommitted, StateFailed},
}

// Request tracks one destructive operation through its states.
type Request struct {
	ID      string
	Op      Operation
	Scope   string
	Actor   audit.Actor
	State   State
	History []State
	Impact  *ImpactReport
}

func newRequest(op Operation, scope string, actor audit.Actor) *Request {
	return &Request{
		ID:      uuid.NewString(),
		Op:      op,
		Scope:   scope,
		Actor:   actor,
		State:   StateRequested,
		History: []State{StateRequested},
	}
}

func (r *Request) Advance(to State) error {
	for _, next := range transitions[r.State] {
		if next == to {
			r.State = to
			r.History = append(r.History, to)
			return nil
		}
	}
	return apperrors.New(apperrors.TypeInternal,
		fmt.Sprintf("illegal %s transition %s -> %s", r.Op, r.State, to), "")
}

// fail moves the request to FAILED from any non-terminal state.
func (r *Request) fail() {
	_ = r.Advance(StateFailed)
}

func (r *Request) Done() bool {
	return r.State == StateCommitted || r.State == StateFailed
}
