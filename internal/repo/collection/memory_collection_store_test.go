package collection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection/collectiontest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	collectiontest.Run(t, func(*testing.T) collection.Store {
		return collection.NewMemoryStore()
	})
}

func TestMemoryStoreMissingCollection(t *testing.T) {
	t.Parallel()

	store := collection.NewMemoryStore()

	err := store.RunInTransaction(context.Background(), collection.WriteScope("missing"),
		func(ctx context.Context, tx collection.Tx) error {
			_, err := tx.Insert(ctx, "missing", collection.Document{"k": "v"})

			return err
		})
	require.ErrorIs(t, err, collection.ErrNoCollection)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	t.Parallel()

	store := collection.NewMemoryStore()
	require.NoError(t, store.EnsureCollections(context.Background(), collection.Spec{Name: "items"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.RunInTransaction(ctx, collection.WriteScope("items"), func(context.Context, collection.Tx) error {
		called = true

		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
