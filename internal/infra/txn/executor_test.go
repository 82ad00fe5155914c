package txn_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

const (
	items  collection.Name = "items"
	events collection.Name = "events"
	other  collection.Name = "other"
)

var errTaken = errors.New("taken")

// countingStore records whether the store was touched at all.
type countingStore struct {
	collection.Store
	calls atomic.Int32
}

func (s *countingStore) RunInTransaction(ctx context.Context, scope collection.LockScope, fn collection.TxFunc) error {
	s.calls.Add(1)

	return s.Store.RunInTransaction(ctx, scope, fn)
}

type putCommand struct {
	key      string
	target   collection.Name
	conflict bool
	panics   bool
}

func (c putCommand) Name() string { return "put" }

func (c putCommand) Scope() collection.LockScope { return collection.WriteScope(items) }

func (c putCommand) Validate() error {
	if c.key == "" {
		return errors.New("key is required")
	}

	return nil
}

func (c putCommand) Apply(ctx context.Context, tx collection.Tx) (txn.Effect, error) {
	target := c.target
	if target == "" {
		target = items
	}

	exists, err := collection.Exists(ctx, tx, items, collection.Filter{"key": c.key})
	if err != nil {
		return txn.Effect{}, err
	}

	if exists && c.conflict {
		return txn.Effect{}, txn.Conflict(errTaken)
	}

	id, err := tx.Insert(ctx, target, collection.Document{"key": c.key})
	if err != nil {
		return txn.Effect{}, err
	}

	if c.panics {
		panic("command exploded")
	}

	return txn.Effect{Action: "put", Subject: c.key, ID: id}, nil
}

type eventTrigger struct {
	fail error
}

func (t eventTrigger) Name() string { return "event" }

func (t eventTrigger) Collections() []collection.Name { return []collection.Name{events} }

func (t eventTrigger) Fire(ctx context.Context, tx collection.Tx, effect txn.Effect, actor string) error {
	if t.fail != nil {
		return t.fail
	}

	_, err := tx.Insert(ctx, events, collection.Document{
		"action":       effect.Action,
		"subject":      effect.Subject,
		"performed_by": actor,
	})

	return err
}

func setup(t *testing.T, trigger eventTrigger) (*countingStore, *txn.Executor) {
	t.Helper()

	store := &countingStore{Store: collection.NewMemoryStore()}
	require.NoError(t, store.EnsureCollections(context.Background(),
		collection.Spec{Name: items},
		collection.Spec{Name: events},
		collection.Spec{Name: other},
	))

	return store, txn.NewExecutor(store, nil, trigger)
}

func count(t *testing.T, store collection.Store, name collection.Name) int {
	t.Helper()

	var n int

	err := store.RunInTransaction(context.Background(), collection.ReadScope(name),
		func(ctx context.Context, tx collection.Tx) error {
			docs, err := tx.Find(ctx, name, collection.Query{})
			n = len(docs)

			return err
		})
	require.NoError(t, err)

	return n
}

func TestExecutorCommitsCommandAndTrigger(t *testing.T) {
	t.Parallel()

	store, executor := setup(t, eventTrigger{})

	effect, err := executor.Execute(context.Background(), putCommand{key: "a"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, "a", effect.Subject)
	assert.NotEmpty(t, effect.ID)
	assert.Equal(t, txn.OutcomeCommitted, txn.OutcomeOf(err))

	assert.Equal(t, 1, count(t, store, items))
	assert.Equal(t, 1, count(t, store, events))
}

func TestExecutorScopeIncludesTriggers(t *testing.T) {
	t.Parallel()

	_, executor := setup(t, eventTrigger{})

	scope := executor.Scope(putCommand{})
	assert.True(t, scope.CanWrite(items))
	assert.True(t, scope.CanWrite(events))
	assert.False(t, scope.CanRead(other))
}

func TestExecutorRejectsBeforeStoreInteraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cmd     putCommand
		actor   string
		wantErr error
	}{
		{name: "invalid command", cmd: putCommand{}, actor: "tester"},
		{name: "missing actor", cmd: putCommand{key: "a"}, actor: "", wantErr: txn.ErrNoActor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, executor := setup(t, eventTrigger{})

			_, err := executor.Execute(context.Background(), tt.cmd, tt.actor)
			require.ErrorIs(t, err, txn.ErrRejected)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}

			assert.Equal(t, txn.OutcomeRejected, txn.OutcomeOf(err))
			assert.False(t, txn.OutcomeOf(err).Retryable())
			assert.Zero(t, store.calls.Load())
		})
	}
}

func TestExecutorConflict(t *testing.T) {
	t.Parallel()

	store, executor := setup(t, eventTrigger{})
	ctx := context.Background()

	_, err := executor.Execute(ctx, putCommand{key: "a", conflict: true}, "tester")
	require.NoError(t, err)

	_, err = executor.Execute(ctx, putCommand{key: "a", conflict: true}, "tester")
	require.ErrorIs(t, err, txn.ErrConflict)
	require.ErrorIs(t, err, errTaken)
	require.NotErrorIs(t, err, txn.ErrNotCommitted)
	assert.Equal(t, txn.OutcomeConflict, txn.OutcomeOf(err))

	assert.Equal(t, 1, count(t, store, items))
	assert.Equal(t, 1, count(t, store, events))
}

func TestExecutorAbortsUnitOfWork(t *testing.T) {
	t.Parallel()

	errTrigger := errors.New("trigger failed")

	tests := []struct {
		name    string
		cmd     putCommand
		trigger eventTrigger
		wantErr error
	}{
		{
			name:    "trigger failure",
			cmd:     putCommand{key: "a"},
			trigger: eventTrigger{fail: errTrigger},
			wantErr: errTrigger,
		},
		{
			name:    "panic in command",
			cmd:     putCommand{key: "a", panics: true},
			wantErr: txn.ErrPanic,
		},
		{
			name:    "write outside declared scope",
			cmd:     putCommand{key: "a", target: other},
			wantErr: collection.ErrOutOfScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, executor := setup(t, tt.trigger)

			_, err := executor.Execute(context.Background(), tt.cmd, "tester")
			require.ErrorIs(t, err, txn.ErrNotCommitted)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, txn.OutcomeOf(err).Retryable())

			assert.Zero(t, count(t, store, items))
			assert.Zero(t, count(t, store, events))
			assert.Zero(t, count(t, store, other))
		})
	}
}

func TestExecutorMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	metrics, err := txn.NewMetrics(reg)
	require.NoError(t, err)

	store := collection.NewMemoryStore()
	require.NoError(t, store.EnsureCollections(context.Background(),
		collection.Spec{Name: items}, collection.Spec{Name: events}))

	executor := txn.NewExecutor(store, metrics, eventTrigger{})
	ctx := context.Background()

	_, err = executor.Execute(ctx, putCommand{key: "a"}, "tester")
	require.NoError(t, err)

	_, err = executor.Execute(ctx, putCommand{}, "tester")
	require.Error(t, err)

	expected := `
# HELP accounts_txn_units_total Units of work executed, by command and outcome.
# TYPE accounts_txn_units_total counter
accounts_txn_units_total{command="put",outcome="committed"} 1
accounts_txn_units_total{command="put",outcome="rejected"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "accounts_txn_units_total"))

	disabled, err := txn.NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, disabled)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", txn.StatePending.String())
	assert.Equal(t, "committed", txn.StateCommitted.String())
	assert.Equal(t, "aborted", txn.StateAborted.String())
}
