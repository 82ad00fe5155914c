package accountsvc

import (
	"fmt"
	"time"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
)

// Collections owned by the account service.
const (
	AccountsCollection collection.Name = "accounts"
	AuditCollection    collection.Name = "audit_entries"
)

// Document fields.
const (
	fieldNaturalKey  = "natural_key"
	fieldCredential  = "credential"
	fieldDisplayName = "display_name"
	fieldRole        = "role"
	fieldCreatedAt   = "created_at"
	fieldVerified    = "verified"
	fieldAction      = "action"
	fieldDetail      = "detail"
	fieldPerformedBy = "performed_by"
	fieldTimestamp   = "timestamp"
)

// Specs returns the collections Setup creates.
func Specs() []collection.Spec {
	return []collection.Spec{
		{Name: AccountsCollection, Unique: []string{fieldNaturalKey}},
		{Name: AuditCollection},
	}
}

// Clock returns the current time.
type Clock func() time.Time

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(doc collection.Document, field string) (time.Time, error) {
	s, _ := doc[field].(string)

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", field, err)
	}

	return t, nil
}

func str(doc collection.Document, field string) string {
	s, _ := doc[field].(string)

	return s
}

func accountDocument(account domain.Account) collection.Document {
	return collection.Document{
		fieldNaturalKey:  account.NaturalKey,
		fieldCredential:  account.Credential,
		fieldDisplayName: account.DisplayName,
		fieldRole:        string(account.Role),
		fieldCreatedAt:   formatTime(account.CreatedAt),
		fieldVerified:    account.Verified,
	}
}

func accountFromDocument(doc collection.Document) (domain.Account, error) {
	createdAt, err := parseTime(doc, fieldCreatedAt)
	if err != nil {
		return domain.Account{}, err
	}

	verified, _ := doc[fieldVerified].(bool)

	return domain.Account{
		ID:          doc.ID(),
		NaturalKey:  str(doc, fieldNaturalKey),
		Credential:  str(doc, fieldCredential),
		DisplayName: str(doc, fieldDisplayName),
		Role:        domain.Role(str(doc, fieldRole)),
		CreatedAt:   createdAt,
		Verified:    verified,
	}, nil
}

func auditEntryDocument(entry domain.AuditEntry) collection.Document {
	return collection.Document{
		fieldAction:      string(entry.Action),
		fieldDetail:      entry.Detail,
		fieldPerformedBy: entry.PerformedBy,
		fieldTimestamp:   formatTime(entry.Timestamp),
	}
}

func auditEntryFromDocument(doc collection.Document) (domain.AuditEntry, error) {
	timestamp, err := parseTime(doc, fieldTimestamp)
	if err != nil {
		return domain.AuditEntry{}, err
	}

	return domain.AuditEntry{
		ID:          doc.ID(),
		Action:      domain.AuditAction(str(doc, fieldAction)),
		Detail:      str(doc, fieldDetail),
		PerformedBy: str(doc, fieldPerformedBy),
		Timestamp:   timestamp,
	}, nil
}
