package accountsvc_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	http_ "github.com/mkrupp/homecase-accounts/internal/infra/transport/http"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc/accountclient"
)

func newTestServer(t *testing.T) (*httptest.Server, *spyStore) {
	t.Helper()

	reg := prometheus.NewRegistry()

	metrics, err := txn.NewMetrics(reg)
	require.NoError(t, err)

	spy := &spyStore{Store: collection.NewMemoryStore()}

	svc, err := accountsvc.NewAccountService(context.Background(),
		func(context.Context) (collection.Store, error) { return spy, nil },
		accountsvc.AccountConfig{DefaultActor: "system_admin"},
		accountsvc.WithClock(fixedClock),
		accountsvc.WithMetrics(metrics),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Setup(context.Background()))

	server := httptest.NewServer(accountsvc.NewHTTPTransport(svc, reg, accountsvc.HTTPTransportConfig{}))
	t.Cleanup(server.Close)

	return server, spy
}

func postJSON(t *testing.T, server *httptest.Server, path, body string, header http.Header) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	for k, v := range header {
		req.Header[k] = v
	}

	return do(t, req)
}

func get(t *testing.T, server *httptest.Server, path string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+path, nil)
	require.NoError(t, err)

	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	return resp.StatusCode, body
}

func TestHTTPCreateAccount(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	status, body := postJSON(t, server, "/accounts", `{"natural_key":"alice","credential":"h1"}`, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "alice", body["natural_key"])
	assert.NotEmpty(t, body["id"])

	status, body = postJSON(t, server, "/accounts", `{"natural_key":"alice","credential":"h2"}`, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, accountsvc.MsgIdentityTaken, body["error"])

	status, _ = postJSON(t, server, "/developers", `{"natural_key":"bob","credential":"h1","display_name":"Bob"}`,
		http.Header{http_.ActorHeader: {"ops"}})
	require.Equal(t, http.StatusCreated, status)

	status, body = get(t, server, "/accounts/bob")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bob", body["display_name"])
	assert.Equal(t, "developer", body["role"])
	assert.Equal(t, true, body["verified"])
	assert.NotContains(t, body, "credential")
}

func TestHTTPCreateAccountForm(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	resp, err := http.PostForm(server.URL+"/accounts", url.Values{ //nolint:noctx
		"natural_key": {"carol"},
		"credential":  {"h1"},
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHTTPCreateAccountBadRequest(t *testing.T) {
	t.Parallel()

	server, spy := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty natural key", body: `{"natural_key":"","credential":"h1"}`},
		{name: "missing credential", body: `{"natural_key":"dave"}`},
		{name: "malformed json", body: `{"natural_key":`},
		{name: "unknown field", body: `{"natural_key":"dave","credential":"h1","role":"admin"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postJSON(t, server, "/accounts", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}

	assert.Zero(t, spy.units.Load(), "invalid requests never reach the store")
}

func TestHTTPCreateAccountNotCommitted(t *testing.T) {
	t.Parallel()

	server, spy := newTestServer(t)
	spy.failInsertsInto(accountsvc.AuditCollection)

	status, body := postJSON(t, server, "/accounts", `{"natural_key":"erin","credential":"h1"}`, nil)
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, accountsvc.MsgNotCommitted, body["error"])

	status, _ = get(t, server, "/accounts/erin")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPListAudit(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	for _, key := range []string{"frank", "grace"} {
		status, _ := postJSON(t, server, "/accounts", `{"natural_key":"`+key+`","credential":"h"}`,
			http.Header{http_.ActorHeader: {"auditor_" + key}})
		require.Equal(t, http.StatusCreated, status)
	}

	resp, err := http.Get(server.URL + "/audit?action=account-created&performed_by=auditor_grace") //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var entries []domain.AuditEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AccountCreatedDetail("grace"), entries[0].Detail)

	status, _ := get(t, server, "/audit?limit=nope")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHTTPHealthAndMetrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	status, body := get(t, server, "/healthz")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = postJSON(t, server, "/accounts", `{"natural_key":"heidi","credential":"h"}`, nil)
	require.Equal(t, http.StatusCreated, status)

	resp, err := http.Get(server.URL + "/metrics") //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `accounts_txn_units_total{command="create-account",outcome="committed"} 1`)
}

func TestHTTPClientAgainstTransport(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	client := accountclient.NewHTTPClient(accountclient.HTTPClientConfig{ServerURL: server.URL}, server.Client())
	ctx := context.Background()

	created, err := client.CreateAccount(ctx, domain.AccountCandidate{NaturalKey: "ivan", Credential: "h"}, "ops")
	require.NoError(t, err)
	assert.Equal(t, "ivan", created.NaturalKey)

	_, err = client.CreateAccount(ctx, domain.AccountCandidate{NaturalKey: "ivan", Credential: "h"}, "ops")
	require.ErrorIs(t, err, domain.ErrAccountExists)

	_, err = client.CreateAccount(ctx, domain.AccountCandidate{Credential: "h"}, "ops")
	require.ErrorIs(t, err, domain.ErrInvalidAccount)
}
