package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// Executor runs commands as atomic units of work. The declared lock scope of
// a unit of work is the command's scope plus the collections of every
// trigger. The executor keeps no state between calls and never retries.
type Executor struct {
	store    collection.Store
	triggers []Trigger
	metrics  *Metrics
	log      logging.Logger
}

// NewExecutor creates an Executor over store. Triggers fire in the given
// order after every successful command. metrics may be nil.
func NewExecutor(store collection.Store, metrics *Metrics, triggers ...Trigger) *Executor {
	return &Executor{
		store:    store,
		triggers: triggers,
		metrics:  metrics,
		log:      logging.GetLogger("infra.txn.executor"),
	}
}

// Scope returns the declared lock scope for cmd.
func (e *Executor) Scope(cmd Command) collection.LockScope {
	scope := cmd.Scope()

	for _, trigger := range e.triggers {
		scope = scope.Union(collection.LockScope{Write: trigger.Collections()})
	}

	return scope
}

// Execute validates cmd and runs it with all triggers in one unit of work
// attributed to actor.
//
// The returned error wraps ErrRejected if validation failed, ErrConflict for a
// business conflict, and ErrNotCommitted for anything else. In every error
// case nothing was committed.
func (e *Executor) Execute(ctx context.Context, cmd Command, actor string) (effect Effect, err error) {
	start := time.Now()
	scope := e.Scope(cmd)
	state := StatePending

	log := e.log.With(logging.Group("unit",
		"command", cmd.Name(),
		"scope", scope.String(),
		"actor", actor,
	))

	defer func() {
		outcome := OutcomeOf(err)
		e.metrics.observe(cmd.Name(), outcome, time.Since(start))

		switch outcome {
		case OutcomeCommitted:
			log.DebugContext(ctx, "unit of work finished", "state", state, "id", effect.ID)
		case OutcomeRejected:
			log.InfoContext(ctx, "unit of work rejected", "error", err)
		case OutcomeConflict:
			log.InfoContext(ctx, "unit of work finished", "state", state, "outcome", outcome, "error", err)
		case OutcomeFailed:
			log.ErrorContext(ctx, "unit of work failed", "state", state, "outcome", outcome, "error", err)
		}
	}()

	if err := cmd.Validate(); err != nil {
		return Effect{}, errors.Join(ErrRejected, err)
	}

	if actor == "" {
		return Effect{}, errors.Join(ErrRejected, ErrNoActor)
	}

	if err := scope.Validate(); err != nil {
		return Effect{}, errors.Join(ErrRejected, err)
	}

	err = e.store.RunInTransaction(ctx, scope, func(ctx context.Context, tx collection.Tx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()

		effect, err = cmd.Apply(ctx, tx)
		if err != nil {
			return err
		}

		for _, trigger := range e.triggers {
			if err := trigger.Fire(ctx, tx, effect, actor); err != nil {
				return fmt.Errorf("fire trigger %s: %w", trigger.Name(), err)
			}
		}

		return nil
	})
	if err != nil {
		state = StateAborted

		if errors.Is(err, ErrConflict) {
			return Effect{}, err
		}

		return Effect{}, errors.Join(ErrNotCommitted, err)
	}

	state = StateCommitted

	return effect, nil
}
