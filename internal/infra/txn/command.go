package txn

import (
	"context"

	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// Effect describes the primary write a command performed. It is handed to
// every trigger of the unit of work.
type Effect struct {
	// Action is the vocabulary tag of what happened, e.g. "account-created".
	Action string
	// Subject is the natural identity of the written record.
	Subject string
	// ID is the store-assigned identifier of the written record.
	ID string
	// Detail is a human-readable description for the audit trail.
	Detail string
}

// Command is a unit of business logic executed inside one unit of work.
type Command interface {
	// Name identifies the command in logs and metrics.
	Name() string

	// Scope declares the collections the command reads and writes.
	Scope() collection.LockScope

	// Validate checks the command input. It is called before the unit of work
	// opens and must not touch the store.
	Validate() error

	// Apply performs the command. Returning an error aborts the unit of work;
	// business conflicts should be marked with Conflict.
	Apply(ctx context.Context, tx collection.Tx) (Effect, error)
}

// Trigger is a mandatory step fired after every successful command in the
// same unit of work. A failing trigger aborts the unit of work.
type Trigger interface {
	// Name identifies the trigger in logs.
	Name() string

	// Collections lists the collections the trigger writes to.
	Collections() []collection.Name

	// Fire runs the trigger for the command's effect.
	Fire(ctx context.Context, tx collection.Tx, effect Effect, actor string) error
}
