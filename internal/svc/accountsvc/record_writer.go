package accountsvc

import (
	"context"
	"fmt"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// RecordWriter inserts new accounts. It never updates an existing record.
type RecordWriter struct {
	Clock Clock
}

// Insert stores a new account for candidate with the developer role and
// verified status and returns it with its assigned id.
func (w RecordWriter) Insert(ctx context.Context, tx collection.Tx, candidate domain.AccountCandidate) (domain.Account, error) {
	account := domain.Account{
		NaturalKey:  candidate.NaturalKey,
		Credential:  candidate.Credential,
		DisplayName: candidate.DisplayName,
		Role:        domain.RoleDeveloper,
		CreatedAt:   w.Clock().UTC(),
		Verified:    true,
	}

	id, err := tx.Insert(ctx, AccountsCollection, accountDocument(account))
	if err != nil {
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}

	account.ID = id

	return account, nil
}
