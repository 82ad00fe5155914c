package domain

import (
	"fmt"
	"time"
)

// AuditAction is the vocabulary tag of an audit entry.
type AuditAction string

// ActionAccountCreated is recorded once for every committed account creation.
const ActionAccountCreated AuditAction = "account-created"

// AuditEntry represents an immutable record of an administrative action.
type AuditEntry struct {
	ID          string      `json:"id"`           // Store-assigned identifier
	Action      AuditAction `json:"action"`       // What happened
	Detail      string      `json:"detail"`       // Human-readable description
	PerformedBy string      `json:"performed_by"` // Actor identity the action is attributed to
	Timestamp   time.Time   `json:"timestamp"`    // When it happened (UTC)
}

// AccountCreatedDetail returns the audit detail for the creation of naturalKey.
func AccountCreatedDetail(naturalKey string) string {
	return fmt.Sprintf("created account: %s", naturalKey)
}
