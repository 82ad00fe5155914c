//go:build integration || all

package collection_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection/collectiontest"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ACCOUNTS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ACCOUNTS_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()

	store, err := collection.NewPostgresStore(ctx, collection.PostgresStoreConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	collectiontest.Run(t, func(*testing.T) collection.Store { return store })

	t.Run("MissingCollection", func(t *testing.T) {
		name := collectiontest.UniqueName(t)

		err := store.RunInTransaction(ctx, collection.ReadScope(name), func(ctx context.Context, tx collection.Tx) error {
			_, err := tx.Find(ctx, name, collection.Query{})

			return err
		})
		require.ErrorIs(t, err, collection.ErrNoCollection)
	})
}
