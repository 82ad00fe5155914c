package accountclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	context_ "github.com/mkrupp/homecase-accounts/internal/infra/context"
	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	http_ "github.com/mkrupp/homecase-accounts/internal/infra/transport/http"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
)

// ErrUnexpectedStatus is returned for responses the client does not understand.
var ErrUnexpectedStatus = errors.New("unexpected status")

// HTTPClientConfig holds configuration for the HTTP account client.
type HTTPClientConfig struct {
	// ServerURL is the base URL of the account service
	ServerURL string `env:"SERVER_URL" default:"http://localhost:8080"`
}

// HTTPClient implements AccountClient using HTTP requests.
type HTTPClient struct {
	httpClient *http.Client
	log        logging.Logger
	cfg        HTTPClientConfig
}

var _ AccountClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTPClient with the given configuration.
// If httpClient is nil, http.DefaultClient will be used.
func NewHTTPClient(
	cfg HTTPClientConfig,
	httpClient *http.Client,
) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPClient{
		httpClient: httpClient,
		log:        logging.GetLogger("svc.accountsvc.http_client"),
		cfg:        cfg,
	}
}

// CreateAccount implements AccountClient.CreateAccount by posting the
// candidate to the service's /accounts endpoint.
func (hc *HTTPClient) CreateAccount(
	ctx context.Context,
	candidate domain.AccountCandidate,
	actor string,
) (created domain.AccountCreated, err error) {
	defer func() {
		if err != nil {
			hc.log.DebugContext(ctx, "create account request failed", "error", err)
		}
	}()

	body, err := json.Marshal(candidate)
	if err != nil {
		return domain.AccountCreated{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(hc.cfg.ServerURL, "/")+"/accounts", bytes.NewReader(body))
	if err != nil {
		return domain.AccountCreated{}, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if actor != "" {
		req.Header.Set(http_.ActorHeader, actor)
	}

	if traceID, ok := context_.TraceIDFromContext(ctx); ok {
		req.Header.Set(http_.TraceIDHeader, traceID)
	}

	resp, err := hc.httpClient.Do(req)
	if err != nil {
		return domain.AccountCreated{}, errors.Join(txn.ErrNotCommitted, fmt.Errorf("post: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return domain.AccountCreated{}, fmt.Errorf("decode response: %w", err)
		}

		return created, nil
	}

	var errResp http_.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
	remote := fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, errResp.Error)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return domain.AccountCreated{}, errors.Join(domain.ErrAccountExists, txn.ErrConflict, remote)
	case resp.StatusCode == http.StatusBadRequest:
		return domain.AccountCreated{}, errors.Join(domain.ErrInvalidAccount, txn.ErrRejected, remote)
	case resp.StatusCode >= http.StatusInternalServerError:
		return domain.AccountCreated{}, errors.Join(txn.ErrNotCommitted, remote)
	default:
		return domain.AccountCreated{}, remote
	}
}
