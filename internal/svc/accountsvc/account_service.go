package accountsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	context_ "github.com/mkrupp/homecase-accounts/internal/infra/context"
	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// DefaultAuditLimit caps ListAuditEntries when no limit is given.
const DefaultAuditLimit = 100

// AccountConfig contains configuration parameters for the account service.
type AccountConfig struct {
	// DefaultActor is the identity audit entries are attributed to when the
	// caller does not name one
	DefaultActor string `env:"DEFAULT_ACTOR" default:"system_admin"`
}

// AuditQuery selects audit entries. Empty fields match everything.
type AuditQuery struct {
	Action      domain.AuditAction
	PerformedBy string
	Limit       int
}

// AccountService creates accounts with an audit trail and reads them back.
type AccountService struct {
	Config   AccountConfig
	Store    collection.Store
	Executor *txn.Executor
	Check    UniquenessCheck
	Writer   RecordWriter
	Log      logging.Logger
}

// Option configures an AccountService.
type Option func(*options)

type options struct {
	clock   Clock
	metrics *txn.Metrics
}

// WithClock sets the clock used for created_at and audit timestamps.
func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithMetrics records unit of work metrics.
func WithMetrics(metrics *txn.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// NewAccountService creates a new AccountService on a store created by storeFactory.
// Returns an error if the store cannot be created.
func NewAccountService(
	ctx context.Context,
	storeFactory collection.StoreFactory,
	cfg AccountConfig,
	opts ...Option,
) (*AccountService, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := storeFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("new store: %w", err)
	}

	return &AccountService{
		Config:   cfg,
		Store:    store,
		Executor: txn.NewExecutor(store, o.metrics, AuditTrigger{Clock: o.clock}),
		Check:    UniquenessCheck{},
		Writer:   RecordWriter{Clock: o.clock},
		Log:      logging.GetLogger("svc.accountsvc.account_service"),
	}, nil
}

// Setup creates the account and audit collections if they are absent.
// It is safe to call repeatedly.
func (s *AccountService) Setup(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.Log.ErrorContext(ctx, "setup failed", "error", err)
		} else {
			s.Log.InfoContext(ctx, "collections ready")
		}
	}()

	if err := s.Store.EnsureCollections(ctx, Specs()...); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}

	return nil
}

// CreateAccount creates an account for candidate together with its audit
// entry, attributed to actor. An empty actor falls back to the actor in ctx
// and then to the configured default.
//
// The error wraps txn.ErrRejected and domain.ErrInvalidAccount for invalid
// input, domain.ErrAccountExists and txn.ErrConflict if the natural key is
// taken, and txn.ErrNotCommitted for system failures.
func (s *AccountService) CreateAccount(
	ctx context.Context,
	candidate domain.AccountCandidate,
	actor string,
) (created domain.AccountCreated, err error) {
	candidate = candidate.Normalize()
	actor = s.actor(ctx, actor)

	log := s.Log.With(logging.Group("account", "natural_key", candidate.NaturalKey))

	defer func() {
		switch {
		case err == nil:
			log.InfoContext(ctx, "account created", "id", created.ID, "actor", actor)
		case errors.Is(err, txn.ErrNotCommitted):
			log.ErrorContext(ctx, "create account failed", "error", err)
		default:
			log.WarnContext(ctx, "create account refused", "error", err)
		}
	}()

	effect, err := s.Executor.Execute(ctx, CreateAccountCommand{
		Candidate: candidate,
		Check:     s.Check,
		Writer:    s.Writer,
	}, actor)
	if err != nil {
		return domain.AccountCreated{}, fmt.Errorf("create account: %w", err)
	}

	return domain.AccountCreated{ID: effect.ID, NaturalKey: effect.Subject}, nil
}

// GetAccount returns the account with naturalKey.
// Returns domain.ErrAccountNotFound if there is none.
func (s *AccountService) GetAccount(ctx context.Context, naturalKey string) (account domain.Account, err error) {
	naturalKey = domain.NormalizeNaturalKey(naturalKey)

	err = s.Store.RunInTransaction(ctx, collection.ReadScope(AccountsCollection),
		func(ctx context.Context, tx collection.Tx) error {
			docs, err := tx.Find(ctx, AccountsCollection, collection.Query{
				Filter: collection.Filter{fieldNaturalKey: naturalKey},
				Limit:  1,
			})
			if err != nil {
				return fmt.Errorf("find account: %w", err)
			}

			if len(docs) == 0 {
				return domain.ErrAccountNotFound
			}

			account, err = accountFromDocument(docs[0])

			return err
		})
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account %q: %w", naturalKey, err)
	}

	return account, nil
}

// ListAuditEntries returns the audit entries matching q in the order they
// were written.
func (s *AccountService) ListAuditEntries(ctx context.Context, q AuditQuery) ([]domain.AuditEntry, error) {
	filter := collection.Filter{}
	if q.Action != "" {
		filter[fieldAction] = string(q.Action)
	}

	if q.PerformedBy != "" {
		filter[fieldPerformedBy] = q.PerformedBy
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	var entries []domain.AuditEntry

	err := s.Store.RunInTransaction(ctx, collection.ReadScope(AuditCollection),
		func(ctx context.Context, tx collection.Tx) error {
			docs, err := tx.Find(ctx, AuditCollection, collection.Query{Filter: filter, Limit: limit})
			if err != nil {
				return fmt.Errorf("find audit entries: %w", err)
			}

			entries = make([]domain.AuditEntry, 0, len(docs))

			for _, doc := range docs {
				entry, err := auditEntryFromDocument(doc)
				if err != nil {
					return err
				}

				entries = append(entries, entry)
			}

			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	return entries, nil
}

// Close releases resources held by the service, such as database connections.
func (s *AccountService) Close(ctx context.Context) error {
	if err := s.Store.Close(ctx); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	return nil
}

func (s *AccountService) actor(ctx context.Context, actor string) string {
	if actor != "" {
		return actor
	}

	if actor, ok := context_.ActorFromContext(ctx); ok {
		return actor
	}

	return s.Config.DefaultActor
}
