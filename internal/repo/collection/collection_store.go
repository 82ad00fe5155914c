// Package collection is a document-oriented persistence layer: named
// collections of JSON-like documents with insert and filtered-query primitives,
// grouped into atomic units of work over an explicitly declared set of
// collections.
package collection

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// IDField is the document field holding the store-assigned identifier.
const IDField = "_id"

var (
	// ErrOutOfScope is returned when a unit of work touches a collection it did
	// not declare, or writes to a collection it declared read-only.
	ErrOutOfScope = errors.New("collection outside declared lock scope")
	// ErrNoCollection is returned when a collection has not been set up.
	ErrNoCollection = errors.New("collection does not exist")
	// ErrDuplicateKey is returned when an insert violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrWriteConflict is returned when the store's isolation checks reject a
	// unit of work because of a concurrent one.
	ErrWriteConflict = errors.New("write conflict")
	// ErrInvalidName is returned for collection or field names that are not
	// plain identifiers.
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidScope is returned when a lock scope declares no collections.
	ErrInvalidScope = errors.New("invalid lock scope")
	// ErrTxDone is returned when a unit of work is used after commit or rollback.
	ErrTxDone = errors.New("unit of work already finished")
)

//nolint:gochecknoglobals
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// Name identifies a collection.
type Name string

// Validate reports whether n can be used as a collection name on every backend.
func (n Name) Validate() error {
	return validName(string(n))
}

func validName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

// Document is a single stored record. Values are scalars (string, bool,
// numbers) or nested maps and slices thereof.
type Document map[string]any

// ID returns the store-assigned identifier of a stored document.
func (d Document) ID() string {
	id, _ := d[IDField].(string)

	return id
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	return maps.Clone(d)
}

// Filter matches documents whose top-level fields equal the given values.
// The IDField may be used to match on the store-assigned identifier.
type Filter map[string]any

// Fields returns the filter's field names in a stable order.
func (f Filter) Fields() []string {
	return slices.Sorted(maps.Keys(f))
}

// Validate checks that all filter fields are plain identifiers.
func (f Filter) Validate() error {
	for field := range f {
		if field == IDField {
			continue
		}

		if err := validName(field); err != nil {
			return err
		}
	}

	return nil
}

// Query selects documents from a collection.
type Query struct {
	// Filter restricts results to matching documents; empty matches all.
	Filter Filter
	// Limit caps the number of results; zero means no limit.
	Limit int
}

// Spec describes a collection for EnsureCollections.
type Spec struct {
	Name Name
	// Unique lists top-level fields that must be unique across the collection.
	Unique []string
}

// Validate checks the collection and field names.
func (s Spec) Validate() error {
	if err := s.Name.Validate(); err != nil {
		return err
	}

	for _, field := range s.Unique {
		if err := validName(field); err != nil {
			return err
		}
	}

	return nil
}

// Tx is the view of the store inside a single unit of work. It offers no way
// to update or delete documents.
type Tx interface {
	// Insert stores doc in the named collection and returns the identifier
	// assigned by the store. Any IDField in doc is ignored.
	Insert(ctx context.Context, name Name, doc Document) (string, error)

	// Find returns the documents matching q in insertion order. Documents
	// inserted earlier in the same unit of work are visible.
	Find(ctx context.Context, name Name, q Query) ([]Document, error)
}

// TxFunc is the body of a unit of work.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is a document store supporting atomic units of work.
type Store interface {
	// EnsureCollections creates the given collections and their unique indexes
	// if they are absent. It is a no-op for collections that already exist.
	EnsureCollections(ctx context.Context, specs ...Spec) error

	// RunInTransaction runs fn as one unit of work over the collections
	// declared in scope. The unit commits if fn returns nil and is rolled back
	// otherwise; either all of its writes become visible or none do.
	RunInTransaction(ctx context.Context, scope LockScope, fn TxFunc) error

	// Close releases resources held by the store.
	Close(ctx context.Context) error
}

// StoreFactory is a function that creates a new Store instance.
type StoreFactory func(ctx context.Context) (Store, error)

// Exists reports whether any document in the named collection matches filter.
func Exists(ctx context.Context, tx Tx, name Name, filter Filter) (bool, error) {
	docs, err := tx.Find(ctx, name, Query{Filter: filter, Limit: 1})
	if err != nil {
		return false, err
	}

	return len(docs) > 0, nil
}

// quoteIdent quotes an already validated name for use in SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// withoutID returns doc without its IDField.
func withoutID(doc Document) Document {
	out := make(Document, len(doc))

	for k, v := range doc {
		if k != IDField {
			out[k] = v
		}
	}

	return out
}
