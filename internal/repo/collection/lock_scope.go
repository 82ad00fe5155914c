package collection

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// LockScope is the closed set of collections a unit of work may touch,
// declared before it starts. Collections in Write may be read and written;
// collections in Read may only be read.
type LockScope struct {
	Read  []Name
	Write []Name
}

// WriteScope declares names as written by the unit of work.
func WriteScope(names ...Name) LockScope {
	return LockScope{Write: names}.Normalize()
}

// ReadScope declares names as read by the unit of work.
func ReadScope(names ...Name) LockScope {
	return LockScope{Read: names}.Normalize()
}

// Normalize sorts and deduplicates the scope and drops read entries that are
// also declared for writing.
func (s LockScope) Normalize() LockScope {
	write := slices.Compact(slices.Sorted(slices.Values(s.Write)))

	read := make([]Name, 0, len(s.Read))
	for _, name := range s.Read {
		if !slices.Contains(write, name) {
			read = append(read, name)
		}
	}

	slices.Sort(read)

	return LockScope{Read: slices.Compact(read), Write: write}
}

// Union returns the scope covering both s and other.
func (s LockScope) Union(other LockScope) LockScope {
	return LockScope{
		Read:  append(slices.Clone(s.Read), other.Read...),
		Write: append(slices.Clone(s.Write), other.Write...),
	}.Normalize()
}

// Validate checks that the scope is non-empty and all names are valid.
func (s LockScope) Validate() error {
	if len(s.Read) == 0 && len(s.Write) == 0 {
		return fmt.Errorf("%w: no collections declared", ErrInvalidScope)
	}

	for _, name := range s.All() {
		if err := name.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// All returns every declared collection in sorted order.
func (s LockScope) All() []Name {
	n := s.Normalize()

	return slices.Sorted(slices.Values(append(n.Read, n.Write...)))
}

// ReadOnly reports whether the scope declares no writes.
func (s LockScope) ReadOnly() bool {
	return len(s.Write) == 0
}

// CanRead reports whether name may be read within the scope.
func (s LockScope) CanRead(name Name) bool {
	return slices.Contains(s.Read, name) || slices.Contains(s.Write, name)
}

// CanWrite reports whether name may be written within the scope.
func (s LockScope) CanWrite(name Name) bool {
	return slices.Contains(s.Write, name)
}

func (s LockScope) String() string {
	parts := make([]string, 0, len(s.Read)+len(s.Write))

	for _, name := range s.Write {
		parts = append(parts, "w:"+string(name))
	}

	for _, name := range s.Read {
		parts = append(parts, "r:"+string(name))
	}

	return strings.Join(parts, ",")
}

// Guard wraps tx so that every operation is checked against scope.
func Guard(tx Tx, scope LockScope) Tx {
	return &scopedTx{tx: tx, scope: scope.Normalize()}
}

type scopedTx struct {
	tx    Tx
	scope LockScope
}

func (s *scopedTx) Insert(ctx context.Context, name Name, doc Document) (string, error) {
	if !s.scope.CanWrite(name) {
		return "", fmt.Errorf("insert into %s: %w", name, ErrOutOfScope)
	}

	return s.tx.Insert(ctx, name, doc)
}

func (s *scopedTx) Find(ctx context.Context, name Name, q Query) ([]Document, error) {
	if !s.scope.CanRead(name) {
		return nil, fmt.Errorf("find in %s: %w", name, ErrOutOfScope)
	}

	if err := q.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, err)
	}

	return s.tx.Find(ctx, name, q)
}
