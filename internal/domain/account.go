package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxNaturalKeyLength is the maximum length of a natural key in characters.
const MaxNaturalKeyLength = 256

var (
	// ErrInvalidAccount is returned when an account candidate fails validation.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrNoNaturalKey is returned when a candidate has an empty natural key.
	ErrNoNaturalKey = errors.New("natural key is required")
	// ErrNoCredential is returned when a candidate has an empty credential.
	ErrNoCredential = errors.New("credential is required")
	// ErrNaturalKeyTooLong is returned when a natural key exceeds MaxNaturalKeyLength.
	ErrNaturalKeyTooLong = errors.New("natural key too long")
	// ErrAccountExists is returned when the natural key is already taken.
	ErrAccountExists = errors.New("key already exists")
	// ErrAccountNotFound is returned when looking up a non-existent account.
	ErrAccountNotFound = errors.New("account not found")
)

// Role is the permission level granted to an account.
type Role string

// RoleDeveloper is the elevated role assigned to accounts created through the
// administrative create path.
const RoleDeveloper Role = "developer"

// Account represents a stored user account.
type Account struct {
	ID          string    `json:"id"`                     // Store-assigned identifier
	NaturalKey  string    `json:"natural_key"`            // Unique identity key, e.g. a username
	Credential  string    `json:"-"`                      // Pre-hashed secret, stored verbatim
	DisplayName string    `json:"display_name,omitempty"` // Optional human-readable name
	Role        Role      `json:"role"`                   // Permission level
	CreatedAt   time.Time `json:"created_at"`             // Creation time (UTC)
	// Verified is always true for accounts created through the administrative
	// path; they do not go through email verification.
	Verified bool `json:"verified"`
}

// AccountCandidate is the input for creating an account.
type AccountCandidate struct {
	NaturalKey  string `json:"natural_key"`
	Credential  string `json:"credential"`
	DisplayName string `json:"display_name,omitempty"`
}

// Normalize returns the candidate with its natural key trimmed and in Unicode
// NFC form, so visually identical keys compare equal.
func (c AccountCandidate) Normalize() AccountCandidate {
	c.NaturalKey = NormalizeNaturalKey(c.NaturalKey)
	c.DisplayName = strings.TrimSpace(c.DisplayName)

	return c
}

// Validate checks that the required fields are present. The error wraps
// ErrInvalidAccount and the specific reason.
func (c AccountCandidate) Validate() error {
	var errs []error

	switch key := NormalizeNaturalKey(c.NaturalKey); {
	case key == "":
		errs = append(errs, ErrNoNaturalKey)
	case utf8.RuneCountInString(key) > MaxNaturalKeyLength:
		errs = append(errs, fmt.Errorf("%w: %d > %d", ErrNaturalKeyTooLong, utf8.RuneCountInString(key), MaxNaturalKeyLength))
	}

	if c.Credential == "" {
		errs = append(errs, ErrNoCredential)
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidAccount}, errs...)...)
	}

	return nil
}

// NormalizeNaturalKey trims surrounding whitespace and applies NFC normalization.
func NormalizeNaturalKey(key string) string {
	return norm.NFC.String(strings.TrimSpace(key))
}

// AccountCreated confirms a committed account creation.
type AccountCreated struct {
	ID         string `json:"id"`
	NaturalKey string `json:"natural_key"`
}
