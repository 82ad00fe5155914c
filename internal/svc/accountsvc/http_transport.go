package accountsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	context_ "github.com/mkrupp/homecase-accounts/internal/infra/context"
	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	http_ "github.com/mkrupp/homecase-accounts/internal/infra/transport/http"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
)

// Messages returned to clients.
const (
	MsgIdentityTaken = "identity already taken"
	MsgNotCommitted  = "not committed, safe to retry"
)

const maxBodyBytes = 1 << 20

// ErrBadRequest is returned when a request body cannot be decoded.
var ErrBadRequest = errors.New("bad request")

// HTTPTransportConfig contains configuration parameters for the HTTP transport layer.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig
}

// HTTPTransport handles HTTP requests for the account service.
type HTTPTransport struct {
	accountSvc *AccountService
	gatherer   prometheus.Gatherer
	log        logging.Logger
	cfg        HTTPTransportConfig
	mux        *http.ServeMux
	handler    http.Handler
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport instance with the given configuration.
// The metrics endpoint serves gatherer; it is omitted if gatherer is nil.
func NewHTTPTransport(
	accountSvc *AccountService,
	gatherer prometheus.Gatherer,
	cfg HTTPTransportConfig,
) *HTTPTransport {
	ht := &HTTPTransport{
		accountSvc: accountSvc,
		gatherer:   gatherer,
		log:        logging.GetLogger("svc.accountsvc.http_transport"),
		cfg:        cfg,
		mux:        http.NewServeMux(),
	}

	ht.mux.HandleFunc("POST /accounts", ht.HandleCreateAccount)
	ht.mux.HandleFunc("POST /developers", ht.HandleCreateAccount)
	ht.mux.HandleFunc("GET /accounts/{natural_key}", ht.HandleGetAccount)
	ht.mux.HandleFunc("GET /audit", ht.HandleListAudit)
	ht.mux.HandleFunc("GET /healthz", ht.HandleHealth)

	if gatherer != nil {
		ht.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	ht.handler = http_.ActorMiddleware(ht.mux, accountSvc.Config.DefaultActor, ht.log)

	return ht
}

// ServeHTTP implements http.Handler and routes the account service endpoints:
// - POST /accounts, POST /developers: create an account
// - GET /accounts/{natural_key}: look up an account
// - GET /audit: list audit entries
// - GET /healthz: liveness
// - GET /metrics: prometheus metrics.
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ht.handler.ServeHTTP(w, r)
}

// HandleCreateAccount processes account creation requests.
// Accepts a JSON body or form parameters: natural_key, credential, display_name.
func (ht *HTTPTransport) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleCreateAccount(w, r)
}

func (ht *HTTPTransport) handleCreateAccount(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.DebugContext(ctx, "create account request failed", "error", err)
		} else {
			log.DebugContext(ctx, "create account request handled")
		}
	}(r.Context())

	candidate, err := decodeCandidate(w, r)
	if err != nil {
		http_.WriteError(w, http.StatusBadRequest, err.Error())

		return err
	}

	// Reject invalid input before the core is invoked
	if err := candidate.Normalize().Validate(); err != nil {
		http_.WriteError(w, http.StatusBadRequest, err.Error())

		return err
	}

	actor, _ := context_.ActorFromContext(r.Context())

	created, err := ht.accountSvc.CreateAccount(r.Context(), candidate, actor)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountExists):
			http_.WriteError(w, http.StatusConflict, MsgIdentityTaken)
		case errors.Is(err, txn.ErrRejected):
			http_.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			http_.WriteError(w, http.StatusInternalServerError, MsgNotCommitted)
		}

		return err
	}

	if err := http_.WriteJSON(w, http.StatusCreated, created); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleGetAccount returns an account without its credential.
func (ht *HTTPTransport) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleGetAccount(w, r)
}

func (ht *HTTPTransport) handleGetAccount(w http.ResponseWriter, r *http.Request) error {
	account, err := ht.accountSvc.GetAccount(r.Context(), r.PathValue("natural_key"))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			http_.WriteError(w, http.StatusNotFound, domain.ErrAccountNotFound.Error())
		} else {
			http_.WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}

		return err
	}

	if err := http_.WriteJSON(w, http.StatusOK, account); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleListAudit lists audit entries.
// Accepts query parameters: action, performed_by, limit.
func (ht *HTTPTransport) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleListAudit(w, r)
}

func (ht *HTTPTransport) handleListAudit(w http.ResponseWriter, r *http.Request) error {
	query := AuditQuery{
		Action:      domain.AuditAction(r.URL.Query().Get("action")),
		PerformedBy: r.URL.Query().Get("performed_by"),
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http_.WriteError(w, http.StatusBadRequest, "invalid limit")

			return errors.Join(ErrBadRequest, err)
		}

		query.Limit = n
	}

	entries, err := ht.accountSvc.ListAuditEntries(r.Context(), query)
	if err != nil {
		http_.WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

		return err
	}

	if err := http_.WriteJSON(w, http.StatusOK, entries); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleHealth reports liveness.
func (ht *HTTPTransport) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = http_.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeCandidate(w http.ResponseWriter, r *http.Request) (domain.AccountCandidate, error) {
	var candidate domain.AccountCandidate

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()

		if err := dec.Decode(&candidate); err != nil {
			return domain.AccountCandidate{}, fmt.Errorf("%w: decode body: %w", ErrBadRequest, err)
		}

		return candidate, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := r.ParseForm(); err != nil {
		return domain.AccountCandidate{}, fmt.Errorf("%w: parse form: %w", ErrBadRequest, err)
	}

	candidate.NaturalKey = r.FormValue("natural_key")
	candidate.Credential = r.FormValue("credential")
	candidate.DisplayName = r.FormValue("display_name")

	return candidate, nil
}
