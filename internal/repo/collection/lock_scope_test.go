package collection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

func TestLockScopeNormalize(t *testing.T) {
	t.Parallel()

	scope := collection.LockScope{
		Read:  []collection.Name{"audit_entries", "accounts", "sessions", "sessions"},
		Write: []collection.Name{"audit_entries", "accounts", "accounts"},
	}.Normalize()

	assert.Equal(t, []collection.Name{"sessions"}, scope.Read)
	assert.Equal(t, []collection.Name{"accounts", "audit_entries"}, scope.Write)
	assert.Equal(t, []collection.Name{"accounts", "audit_entries", "sessions"}, scope.All())
	assert.Equal(t, "w:accounts,w:audit_entries,r:sessions", scope.String())
}

func TestLockScopeUnion(t *testing.T) {
	t.Parallel()

	scope := collection.ReadScope("accounts").Union(collection.WriteScope("audit_entries"))

	assert.True(t, scope.CanRead("accounts"))
	assert.False(t, scope.CanWrite("accounts"))
	assert.True(t, scope.CanRead("audit_entries"))
	assert.True(t, scope.CanWrite("audit_entries"))
	assert.False(t, scope.CanRead("other"))
	assert.False(t, scope.ReadOnly())
	assert.True(t, collection.ReadScope("accounts").ReadOnly())

	upgraded := scope.Union(collection.WriteScope("accounts"))
	assert.True(t, upgraded.CanWrite("accounts"))
	assert.Empty(t, upgraded.Read)
}

func TestLockScopeValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		scope   collection.LockScope
		wantErr error
	}{
		{name: "valid", scope: collection.WriteScope("accounts")},
		{name: "empty", scope: collection.LockScope{}, wantErr: collection.ErrInvalidScope},
		{name: "leading digit", scope: collection.ReadScope("1accounts"), wantErr: collection.ErrInvalidName},
		{name: "quote", scope: collection.WriteScope(`acc"ounts`), wantErr: collection.ErrInvalidName},
		{name: "dot", scope: collection.WriteScope("acc.ounts"), wantErr: collection.ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.scope.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

type recordingTx struct {
	inserts []collection.Name
	finds   []collection.Name
}

func (r *recordingTx) Insert(_ context.Context, name collection.Name, _ collection.Document) (string, error) {
	r.inserts = append(r.inserts, name)

	return "id", nil
}

func (r *recordingTx) Find(_ context.Context, name collection.Name, _ collection.Query) ([]collection.Document, error) {
	r.finds = append(r.finds, name)

	return nil, nil
}

func TestGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := &recordingTx{}
	tx := collection.Guard(inner, collection.LockScope{
		Read:  []collection.Name{"accounts"},
		Write: []collection.Name{"audit_entries"},
	})

	_, err := tx.Insert(ctx, "audit_entries", collection.Document{})
	require.NoError(t, err)

	_, err = tx.Find(ctx, "accounts", collection.Query{})
	require.NoError(t, err)

	_, err = tx.Insert(ctx, "accounts", collection.Document{})
	require.ErrorIs(t, err, collection.ErrOutOfScope)

	_, err = tx.Find(ctx, "sessions", collection.Query{})
	require.ErrorIs(t, err, collection.ErrOutOfScope)

	_, err = tx.Find(ctx, "accounts", collection.Query{Filter: collection.Filter{"bad field": "x"}})
	require.ErrorIs(t, err, collection.ErrInvalidName)

	assert.Equal(t, []collection.Name{"audit_entries"}, inner.inserts)
	assert.Equal(t, []collection.Name{"accounts"}, inner.finds)
}

func TestNewStoreFactory(t *testing.T) {
	t.Parallel()

	factory, err := collection.NewStoreFactory(collection.StoreConfig{Driver: collection.DriverMemory})
	require.NoError(t, err)

	store, err := factory(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &collection.MemoryStore{}, store)

	_, err = collection.NewStoreFactory(collection.StoreConfig{Driver: "cassandra"})
	require.ErrorIs(t, err, collection.ErrUnknownDriver)
}
