// Package txn runs commands and their triggers as single atomic units of work
// over a collection.Store.
package txn

import "errors"

var (
	// ErrRejected is returned when a command fails validation. The store was
	// not touched.
	ErrRejected = errors.New("rejected")
	// ErrConflict marks an expected business conflict detected inside the unit
	// of work. Nothing was committed and retrying will not help.
	ErrConflict = errors.New("conflict")
	// ErrNotCommitted marks a system failure. Nothing was committed and the
	// whole request may safely be retried.
	ErrNotCommitted = errors.New("not committed, safe to retry")
	// ErrNoActor is returned when a command is executed without an actor identity.
	ErrNoActor = errors.New("actor identity is required")
	// ErrPanic is returned when the body of a unit of work panics.
	ErrPanic = errors.New("panic in unit of work")
)

// Conflict marks err as a business conflict.
func Conflict(err error) error {
	return errors.Join(ErrConflict, err)
}

// Outcome classifies the result of Executor.Execute.
type Outcome string

// Outcomes of a unit of work.
const (
	OutcomeCommitted Outcome = "committed"
	OutcomeConflict  Outcome = "conflict"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// OutcomeOf classifies an error returned by Executor.Execute.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, ErrRejected):
		return OutcomeRejected
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	default:
		return OutcomeFailed
	}
}

// Retryable reports whether the failed request may be retried as a whole.
func (o Outcome) Retryable() bool {
	return o == OutcomeFailed
}

// State is the lifecycle state of a unit of work.
type State int

// Unit of work states. A unit of work moves from StatePending directly to
// either StateCommitted or StateAborted.
const (
	StatePending State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
