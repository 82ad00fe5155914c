package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	context_ "github.com/mkrupp/homecase-accounts/internal/infra/context"
	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	http_ "github.com/mkrupp/homecase-accounts/internal/infra/transport/http"
)

func echoContext() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := context_.ActorFromContext(r.Context())
		traceID, _ := context_.TraceIDFromContext(r.Context())
		_ = http_.WriteJSON(w, http.StatusOK, map[string]string{"actor": actor, "trace": traceID})
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	return body
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	handler := http_.TracingMiddleware(echoContext())

	t.Run("propagates request id", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(http_.TraceIDHeader, "trace-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "trace-1", decode(t, rec)["trace"])
		assert.Equal(t, "trace-1", rec.Header().Get(http_.TraceIDHeader))
	})

	t.Run("generates request id", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		trace := decode(t, rec)["trace"]
		assert.Len(t, trace, 26)
		assert.Equal(t, trace, rec.Header().Get(http_.TraceIDHeader))
	})
}

func TestActorMiddleware(t *testing.T) {
	t.Parallel()

	handler := http_.ActorMiddleware(echoContext(), "system_admin", logging.NewNopLogger())

	tests := []struct {
		name       string
		header     *string
		wantStatus int
		wantActor  string
	}{
		{name: "default actor", wantStatus: http.StatusOK, wantActor: "system_admin"},
		{name: "header actor", header: ptr(" ops "), wantStatus: http.StatusOK, wantActor: "ops"},
		{name: "empty header", header: ptr(""), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != nil {
				req.Header.Set(http_.ActorHeader, *tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantActor, decode(t, rec)["actor"])
			}
		})
	}
}

func TestRescueingMiddleware(t *testing.T) {
	t.Parallel()

	handler := http_.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}), logging.NewNopLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), decode(t, rec)["error"])
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	sock, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- http_.Serve(ctx, sock, echoContext(), http_.HTTPTransportConfig{
			ReadHeaderTimeout: time.Second,
			ShutdownTimeout:   time.Second,
		})
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/", sock.Addr())) //nolint:noctx
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(http_.TraceIDHeader))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func ptr(s string) *string {
	return &s
}
