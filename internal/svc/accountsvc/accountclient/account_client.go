// Package accountclient talks to a remote account service.
package accountclient

import (
	"context"

	"github.com/mkrupp/homecase-accounts/internal/domain"
)

// AccountClient defines the interface for creating accounts remotely.
type AccountClient interface {
	// CreateAccount creates an account with an audit entry attributed to actor.
	// Returns domain.ErrAccountExists if the natural key is taken,
	// domain.ErrInvalidAccount if the service rejected the input and
	// txn.ErrNotCommitted if the service failed without committing.
	CreateAccount(ctx context.Context, candidate domain.AccountCandidate, actor string) (domain.AccountCreated, error)
}
