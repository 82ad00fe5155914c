package accountsvc

import (
	"context"
	"fmt"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// AuditTrigger appends an audit entry for every committed command.
type AuditTrigger struct {
	Clock Clock
}

var _ txn.Trigger = AuditTrigger{}

// Name implements txn.Trigger.Name.
func (AuditTrigger) Name() string {
	return "audit"
}

// Collections implements txn.Trigger.Collections.
func (AuditTrigger) Collections() []collection.Name {
	return []collection.Name{AuditCollection}
}

// Fire implements txn.Trigger.Fire.
func (a AuditTrigger) Fire(ctx context.Context, tx collection.Tx, effect txn.Effect, actor string) error {
	_, err := a.Append(ctx, tx, domain.AuditAction(effect.Action), effect.Detail, actor)

	return err
}

// Append unconditionally inserts an audit entry.
func (a AuditTrigger) Append(
	ctx context.Context,
	tx collection.Tx,
	action domain.AuditAction,
	detail string,
	actor string,
) (domain.AuditEntry, error) {
	entry := domain.AuditEntry{
		Action:      action,
		Detail:      detail,
		PerformedBy: actor,
		Timestamp:   a.Clock().UTC(),
	}

	id, err := tx.Insert(ctx, AuditCollection, auditEntryDocument(entry))
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}

	entry.ID = id

	return entry, nil
}
