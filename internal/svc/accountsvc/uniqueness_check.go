package accountsvc

import (
	"context"
	"fmt"

	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// UniquenessCheck tells whether a natural key is already taken. It reads
// through the unit of work it is given, so it sees that unit's snapshot.
type UniquenessCheck struct{}

// Exists reports whether an account with naturalKey exists.
func (UniquenessCheck) Exists(ctx context.Context, tx collection.Tx, naturalKey string) (bool, error) {
	exists, err := collection.Exists(ctx, tx, AccountsCollection, collection.Filter{fieldNaturalKey: naturalKey})
	if err != nil {
		return false, fmt.Errorf("check natural key: %w", err)
	}

	return exists, nil
}
