package accountsvc

import (
	"context"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// CreateAccountCommand creates an account unless its natural key is taken.
type CreateAccountCommand struct {
	Candidate domain.AccountCandidate
	Check     UniquenessCheck
	Writer    RecordWriter
}

var _ txn.Command = CreateAccountCommand{}

// Name implements txn.Command.Name.
func (CreateAccountCommand) Name() string {
	return "create-account"
}

// Scope implements txn.Command.Scope.
func (CreateAccountCommand) Scope() collection.LockScope {
	return collection.WriteScope(AccountsCollection)
}

// Validate implements txn.Command.Validate.
func (c CreateAccountCommand) Validate() error {
	return c.Candidate.Validate() //nolint:wrapcheck
}

// Apply implements txn.Command.Apply.
func (c CreateAccountCommand) Apply(ctx context.Context, tx collection.Tx) (txn.Effect, error) {
	exists, err := c.Check.Exists(ctx, tx, c.Candidate.NaturalKey)
	if err != nil {
		return txn.Effect{}, err
	}

	if exists {
		return txn.Effect{}, txn.Conflict(domain.ErrAccountExists)
	}

	account, err := c.Writer.Insert(ctx, tx, c.Candidate)
	if err != nil {
		return txn.Effect{}, err
	}

	return txn.Effect{
		Action:  string(domain.ActionAccountCreated),
		Subject: account.NaturalKey,
		ID:      account.ID,
		Detail:  domain.AccountCreatedDetail(account.NaturalKey),
	}, nil
}
