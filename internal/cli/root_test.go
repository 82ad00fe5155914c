package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/mkrupp/homecase-accounts/internal/cli"
	"github.com/mkrupp/homecase-accounts/internal/domain"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc"
)

func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()

	t.Setenv("ACCOUNTS_ACCOUNTCTL_LOG_OUTPUT", "discard")

	cmd := cli.NewRootCommand()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--store", "sqlite", "--sqlite-path", dbPath}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func setupDB(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "accounts.db")

	_, err := run(t, dbPath, "setup")
	require.NoError(t, err)

	return dbPath
}

func TestRootCommand(t *testing.T) {
	cmd := cli.NewRootCommand()

	assert.Equal(t, "accountctl", cmd.Use)

	for _, name := range []string{"setup", "create", "show", "audit"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	for _, name := range []string{"format", "store", "sqlite-path"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "accounts.db"), "--format", "xml", "setup")
	require.Error(t, err)
	assert.Equal(t, cli.ExitCommandError, cli.GetExitCode(err))
}

func TestSetupIsIdempotent(t *testing.T) {
	dbPath := setupDB(t)

	out, err := run(t, dbPath, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "collection accounts ready")
	assert.Contains(t, out, "collection audit_entries ready")
}

func TestCreateAndShow(t *testing.T) {
	dbPath := setupDB(t)

	out, err := run(t, dbPath, "--format", "json", "create",
		"--natural-key", "alice", "--credential", "h1", "--display-name", "Alice", "--actor", "root")
	require.NoError(t, err)

	var created domain.AccountCreated
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "alice", created.NaturalKey)
	assert.NotEmpty(t, created.ID)

	out, err = run(t, dbPath, "--format", "json", "show", "alice")
	require.NoError(t, err)

	var account map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &account))
	assert.Equal(t, created.ID, account["id"])
	assert.Equal(t, "Alice", account["display_name"])
	assert.Equal(t, "developer", account["role"])
	assert.Equal(t, true, account["verified"])
	assert.NotContains(t, account, "credential")

	out, err = run(t, dbPath, "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "natural key:  alice")
	assert.NotContains(t, out, "h1")
}

func TestCreateConflict(t *testing.T) {
	dbPath := setupDB(t)

	_, err := run(t, dbPath, "create", "--natural-key", "bob", "--credential", "h1")
	require.NoError(t, err)

	_, err = run(t, dbPath, "create", "--natural-key", "bob", "--credential", "h2")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConflict, cli.GetExitCode(err))
	assert.Contains(t, err.Error(), accountsvc.MsgIdentityTaken)

	out, err := run(t, dbPath, "--format", "json", "audit")
	require.NoError(t, err)

	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 1)
}

func TestCreateValidation(t *testing.T) {
	dbPath := setupDB(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "blank natural key", args: []string{"--natural-key", "  ", "--credential", "h"}},
		{name: "empty credential", args: []string{"--natural-key", "carol", "--credential", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, dbPath, append([]string{"create"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, cli.ExitCommandError, cli.GetExitCode(err))
		})
	}

	_, err := run(t, dbPath, "create", "--natural-key", "carol", "--credential", "h", "--password", "p")
	require.Error(t, err)
}

func TestCreateHashesPassword(t *testing.T) {
	dbPath := setupDB(t)

	_, err := run(t, dbPath, "create", "--natural-key", "dave", "--password", "s3cret")
	require.NoError(t, err)

	store, err := collection.NewSQLiteStore(context.Background(), collection.SQLiteStoreConfig{DatabasePath: dbPath})
	require.NoError(t, err)

	defer store.Close(context.Background()) //nolint:errcheck

	var credential string

	err = store.RunInTransaction(context.Background(), collection.ReadScope(accountsvc.AccountsCollection),
		func(ctx context.Context, tx collection.Tx) error {
			docs, err := tx.Find(ctx, accountsvc.AccountsCollection, collection.Query{
				Filter: collection.Filter{"natural_key": "dave"},
			})
			if err != nil {
				return err
			}

			require.Len(t, docs, 1)
			credential, _ = docs[0]["credential"].(string)

			return nil
		})
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(credential), []byte("s3cret")))
}

func TestAuditFilters(t *testing.T) {
	dbPath := setupDB(t)

	for _, args := range [][]string{
		{"--natural-key", "erin", "--credential", "h", "--actor", "root"},
		{"--natural-key", "frank", "--credential", "h", "--actor", "ops"},
	} {
		_, err := run(t, dbPath, append([]string{"create"}, args...)...)
		require.NoError(t, err)
	}

	out, err := run(t, dbPath, "--format", "yaml", "audit", "--performed-by", "ops")
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "ops", entries[0]["performed_by"])
	assert.Equal(t, "created account: frank", entries[0]["detail"])

	out, err = run(t, dbPath, "audit", "--action", "account-created", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "PERFORMED BY")
	assert.Contains(t, out, "created account:")
}

func TestShowNotFound(t *testing.T) {
	dbPath := setupDB(t)

	_, err := run(t, dbPath, "show", "nobody")
	require.Error(t, err)
	assert.Equal(t, cli.ExitNotFound, cli.GetExitCode(err))
}

func TestCreateThroughServer(t *testing.T) {
	svc, err := accountsvc.NewAccountService(context.Background(), collection.MemoryStoreFactory(),
		accountsvc.AccountConfig{DefaultActor: "system_admin"})
	require.NoError(t, err)
	require.NoError(t, svc.Setup(context.Background()))

	server := httptest.NewServer(accountsvc.NewHTTPTransport(svc, nil, accountsvc.HTTPTransportConfig{}))
	t.Cleanup(server.Close)

	dbPath := filepath.Join(t.TempDir(), "unused.db")

	_, err = run(t, dbPath, "create", "--server", server.URL, "--natural-key", "gina", "--credential", "h", "--actor", "root")
	require.NoError(t, err)

	_, err = run(t, dbPath, "create", "--server", server.URL, "--natural-key", "gina", "--credential", "h")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConflict, cli.GetExitCode(err))

	account, err := svc.GetAccount(context.Background(), "gina")
	require.NoError(t, err)
	assert.Equal(t, "gina", account.NaturalKey)

	entries, err := svc.ListAuditEntries(context.Background(), accountsvc.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "root", entries[0].PerformedBy)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, cli.ExitSuccess, cli.GetExitCode(nil))
	assert.Equal(t, cli.ExitFailure, cli.GetExitCode(assert.AnError))
	assert.Equal(t, cli.ExitNotFound, cli.GetExitCode(cli.WrapExitError(cli.ExitNotFound, "x", assert.AnError)))
}
