// Package collectiontest provides a conformance suite for collection.Store
// implementations.
package collectiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
	"github.com/mkrupp/homecase-accounts/internal/util/ident"
)

var errAbort = errors.New("abort")

// NewStoreFunc returns a store for a single test. Stores may be shared between
// tests; every test works on freshly named collections.
type NewStoreFunc func(t *testing.T) collection.Store

// Run runs the conformance suite against the stores returned by newStore.
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store collection.Store)
	}{
		{"InsertAndFind", testInsertAndFind},
		{"FilterAndLimit", testFilterAndLimit},
		{"RollbackDiscardsWrites", testRollbackDiscardsWrites},
		{"PanicRollsBack", testPanicRollsBack},
		{"UniqueIndex", testUniqueIndex},
		{"EnsureCollectionsIdempotent", testEnsureCollectionsIdempotent},
		{"ScopeEnforced", testScopeEnforced},
		{"TxDoneAfterCommit", testTxDoneAfterCommit},
		{"ConcurrentCheckThenInsert", testConcurrentCheckThenInsert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// UniqueName returns a collection name that no other test uses.
func UniqueName(t *testing.T) collection.Name {
	t.Helper()

	return collection.Name("c_" + ident.MustNew())
}

func ensure(t *testing.T, store collection.Store, specs ...collection.Spec) {
	t.Helper()

	require.NoError(t, store.EnsureCollections(context.Background(), specs...))
}

func findAll(t *testing.T, store collection.Store, name collection.Name, q collection.Query) []collection.Document {
	t.Helper()

	var docs []collection.Document

	err := store.RunInTransaction(context.Background(), collection.ReadScope(name),
		func(ctx context.Context, tx collection.Tx) error {
			var err error
			docs, err = tx.Find(ctx, name, q)

			return err
		})
	require.NoError(t, err)

	return docs
}

func testInsertAndFind(t *testing.T, store collection.Store) {
	ctx := context.Background()
	name := UniqueName(t)
	ensure(t, store, collection.Spec{Name: name})

	var ids []string

	err := store.RunInTransaction(ctx, collection.WriteScope(name), func(ctx context.Context, tx collection.Tx) error {
		for _, key := range []string{"first", "second"} {
			id, err := tx.Insert(ctx, name, collection.Document{
				"key":              key,
				"flag":             true,
				collection.IDField: "ignored",
			})
			if err != nil {
				return err
			}

			ids = append(ids, id)
		}

		staged, err := tx.Find(ctx, name, collection.Query{})
		if err != nil {
			return err
		}

		assert.Len(t, staged, 2, "own inserts are visible inside the unit of work")

		return nil
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, "ignored", ids[0])

	docs := findAll(t, store, name, collection.Query{})
	require.Len(t, docs, 2)
	assert.Equal(t, ids[0], docs[0].ID())
	assert.Equal(t, "first", docs[0]["key"])
	assert.Equal(t, true, docs[0]["flag"])
	assert.Equal(t, ids[1], docs[1].ID())
	assert.Equal(t, "second", docs[1]["key"])
}

func testFilterAndLimit(t *testing.T, store collection.Store) {
	ctx := context.Background()
	name := UniqueName(t)
	ensure(t, store, collection.Spec{Name: name})

	var ids []string

	err := store.RunInTransaction(ctx, collection.WriteScope(name), func(ctx context.Context, tx collection.Tx) error {
		for i := range 4 {
			id, err := tx.Insert(ctx, name, collection.Document{
				"n":    fmt.Sprint(i),
				"kind": map[bool]string{true: "even", false: "odd"}[i%2 == 0],
			})
			if err != nil {
				return err
			}

			ids = append(ids, id)
		}

		return nil
	})
	require.NoError(t, err)

	even := findAll(t, store, name, collection.Query{Filter: collection.Filter{"kind": "even"}})
	require.Len(t, even, 2)
	assert.Equal(t, "0", even[0]["n"])
	assert.Equal(t, "2", even[1]["n"])

	limited := findAll(t, store, name, collection.Query{Filter: collection.Filter{"kind": "odd"}, Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, "1", limited[0]["n"])

	byID := findAll(t, store, name, collection.Query{Filter: collection.Filter{collection.IDField: ids[3]}})
	require.Len(t, byID, 1)
	assert.Equal(t, "3", byID[0]["n"])

	none := findAll(t, store, name, collection.Query{Filter: collection.Filter{"kind": "even", "n": "1"}})
	assert.Empty(t, none)
}

func testRollbackDiscardsWrites(t *testing.T, store collection.Store) {
	ctx := context.Background()
	first, second := UniqueName(t), UniqueName(t)
	ensure(t, store, collection.Spec{Name: first}, collection.Spec{Name: second})

	err := store.RunInTransaction(ctx, collection.WriteScope(first, second),
		func(ctx context.Context, tx collection.Tx) error {
			if _, err := tx.Insert(ctx, first, collection.Document{"k": "v"}); err != nil {
				return err
			}

			if _, err := tx.Insert(ctx, second, collection.Document{"k": "v"}); err != nil {
				return err
			}

			return errAbort
		})
	require.ErrorIs(t, err, errAbort)

	assert.Empty(t, findAll(t, store, first, collection.Query{}))
	assert.Empty(t, findAll(t, store, second, collection.Query{}))
}

func testPanicRollsBack(t *testing.T, store collection.Store) {
	ctx := context.Background()
	name := UniqueName(t)
	ensure(t, store, collection.Spec{Name: name})

	require.Panics(t, func() {
		_ = store.RunInTransaction(ctx, collection.WriteScope(name), func(ctx context.Context, tx collection.Tx) error {
			if _, err := tx.Insert(ctx, name, collection.Document{"k": "v"}); err != nil {
				return err
			}

			panic("boom")
		})
	})

	assert.Empty(t, findAll(t, store, name, collection.Query{}))

	err := store.RunInTransaction(ctx, collection.WriteScope(name), func(ctx context.Context, tx collection.Tx) error {
		_, err := tx.Insert(ctx, name, collection.Document{"k": "after"})

		return err
	})
	require.NoError(t, err, "store stays usable after a panicking unit of work")
}

func testUniqueIndex(t *testing.T, store collection.Store) {
	ctx := context.Background()
	name := UniqueName(t)
	ensure(t, store, collection.Spec{Name: name, Unique: []string{"key"}})

	insert := func(key string) error {
		return store.RunInTransaction(ctx, collection.WriteScope(name), func(ctx context.Context, tx collection.Tx) error {
			_, err := tx.Insert(ctx, name, collection.Document{"key": key})

			return err
		})
	}

	require.NoError(t, insert("alice"))
	require.NoError(t, insert("bob"))
	require.ErrorIs(t, insert("alice"), collection.ErrDuplicateKey)

	assert.Len(t, findAll(t, store, name, collection.Query{}), 2)
}

func testEnsureCollectionsIdempotent(t *testing.T, store collection.Store) {
	ctx := context.Background()
	name := UniqueName(t)
	spec := collection.Spec{Name: name, Unique: []string{"key"}}
	ensure(t, store, spec)

	err := store.RunInTransaction(ctx, collection.WriteScope(name), func(ctx context.Context, tx collection.Tx) error {
		_, err := tx.Insert(ctx, name, collection.Document{"key": "kept"})

		return err
	})
	require.NoError(t, err)

	ensure(t, store, spec)
	ensure(t, store, spec)

	docs := findAll(t, store, name, collection.Query{})
	require.Len(t, docs, 1)
	assert.Equal(t, "kept", docs[0]["key"])

	require.ErrorIs(t, store.EnsureCollections(ctx, collection.Spec{Name: "1bad"}), collection.ErrInvalidName)
}

func testScopeEnforced(t *testing.T, store collection.Store) {
	ctx := context.Background()
	declared, readOnly, undeclared := UniqueName(t), UniqueName(t), UniqueName(t)
	ensure(t, store,
		collection.Spec{Name: declared},
		collection.Spec{Name: readOnly},
		collection.Spec{Name: undeclared},
	)

	scope := collection.LockScope{Read: []collection.Name{readOnly}, Write: []collection.Name{declared}}

	err := store.RunInTransaction(ctx, scope, func(ctx context.Context, tx collection.Tx) error {
		if _, err := tx.Insert(ctx, declared, collection.Document{"k": "v"}); err != nil {
			return err
		}

		_, err := tx.Insert(ctx, readOnly, collection.Document{"k": "v"})

		return err
	})
	require.ErrorIs(t, err, collection.ErrOutOfScope)

	err = store.RunInTransaction(ctx, scope, func(ctx context.Context, tx collection.Tx) error {
		_, err := tx.Find(ctx, undeclared, collection.Query{})

		return err
	})
	require.ErrorIs(t, err, collection.ErrOutOfScope)

	assert.Empty(t, findAll(t, store, declared, collection.Query{}))

	err = store.RunInTransaction(ctx, collection.LockScope{}, func(context.Context, collection.Tx) error {
		return nil
	})
	require.ErrorIs(t, err, collection.ErrInvalidScope)
}

func testTxDoneAfterCommit(t *testing.T, store collection.Store) {
	ctx := context.Background()
	name := UniqueName(t)
	ensure(t, store, collection.Spec{Name: name})

	var leaked collection.Tx

	err := store.RunInTransaction(ctx, collection.WriteScope(name), func(_ context.Context, tx collection.Tx) error {
		leaked = tx

		return nil
	})
	require.NoError(t, err)

	_, err = leaked.Insert(ctx, name, collection.Document{"k": "v"})
	require.ErrorIs(t, err, collection.ErrTxDone)

	_, err = leaked.Find(ctx, name, collection.Query{})
	require.ErrorIs(t, err, collection.ErrTxDone)
}

func testConcurrentCheckThenInsert(t *testing.T, store collection.Store) {
	ctx := context.Background()
	name := UniqueName(t)
	ensure(t, store, collection.Spec{Name: name, Unique: []string{"key"}})

	const workers = 8

	var (
		mu        sync.Mutex
		committed int
	)

	errExists := errors.New("exists")

	var group errgroup.Group

	for range workers {
		group.Go(func() error {
			err := store.RunInTransaction(ctx, collection.WriteScope(name), func(ctx context.Context, tx collection.Tx) error {
				exists, err := collection.Exists(ctx, tx, name, collection.Filter{"key": "contested"})
				if err != nil {
					return err
				}

				if exists {
					return errExists
				}

				_, err = tx.Insert(ctx, name, collection.Document{"key": "contested"})

				return err
			})

			switch {
			case err == nil:
				mu.Lock()
				committed++
				mu.Unlock()
			case errors.Is(err, errExists),
				errors.Is(err, collection.ErrDuplicateKey),
				errors.Is(err, collection.ErrWriteConflict):
			default:
				return err
			}

			return nil
		})
	}

	require.NoError(t, group.Wait())
	assert.Equal(t, 1, committed)
	assert.Len(t, findAll(t, store, name, collection.Query{Filter: collection.Filter{"key": "contested"}}), 1)
}
