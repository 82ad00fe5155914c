package collection

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	"github.com/mkrupp/homecase-accounts/internal/util/ident"
)

// MemoryStore implements Store in process memory.
//
// A unit of work locks every declared collection for its whole duration,
// exclusively for written collections and shared for read-only ones. Locks are
// taken in name order, so units of work are serializable and cannot deadlock.
// Inserts are staged and only become visible to others on commit.
type MemoryStore struct {
	log logging.Logger

	mu          sync.Mutex
	collections map[Name]*memoryCollection
}

var _ Store = (*MemoryStore)(nil)

type memoryCollection struct {
	lock   sync.RWMutex
	unique []string
	docs   []Document
}

// MemoryStoreFactory creates a factory function that returns a new MemoryStore.
func MemoryStoreFactory() StoreFactory {
	return func(context.Context) (Store, error) {
		return NewMemoryStore(), nil
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		log:         logging.GetLogger("repo.collection.memory_collection_store"),
		collections: make(map[Name]*memoryCollection),
	}
}

// EnsureCollections implements Store.EnsureCollections.
func (s *MemoryStore) EnsureCollections(ctx context.Context, specs ...Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}

		coll, ok := s.collections[spec.Name]
		if !ok {
			coll = &memoryCollection{}
			s.collections[spec.Name] = coll

			s.log.DebugContext(ctx, "collection created", "collection", spec.Name)
		}

		coll.lock.Lock()
		for _, field := range spec.Unique {
			if !slices.Contains(coll.unique, field) {
				coll.unique = append(coll.unique, field)
			}
		}
		coll.lock.Unlock()
	}

	return nil
}

// RunInTransaction implements Store.RunInTransaction.
func (s *MemoryStore) RunInTransaction(ctx context.Context, scope LockScope, fn TxFunc) error {
	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}

	tx := &memoryTx{
		collections: make(map[Name]*memoryCollection),
		staged:      make(map[Name][]Document),
	}

	s.mu.Lock()
	for _, name := range scope.All() {
		if coll, ok := s.collections[name]; ok {
			tx.collections[name] = coll
		}
	}
	s.mu.Unlock()

	for _, name := range scope.All() {
		coll, ok := tx.collections[name]
		if !ok {
			continue
		}

		if scope.CanWrite(name) {
			coll.lock.Lock()
			defer coll.lock.Unlock()
		} else {
			coll.lock.RLock()
			defer coll.lock.RUnlock()
		}
	}

	defer func() { tx.done = true }()

	if err := fn(ctx, Guard(tx, scope)); err != nil {
		return err
	}

	for name, docs := range tx.staged {
		coll := tx.collections[name]
		coll.docs = append(coll.docs, docs...)
	}

	return nil
}

// Close implements Store.Close.
func (s *MemoryStore) Close(context.Context) error {
	return nil
}

type memoryTx struct {
	collections map[Name]*memoryCollection
	staged      map[Name][]Document
	done        bool
}

func (t *memoryTx) collection(name Name) (*memoryCollection, error) {
	if t.done {
		return nil, ErrTxDone
	}

	coll, ok := t.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCollection, name)
	}

	return coll, nil
}

func (t *memoryTx) Insert(ctx context.Context, name Name, doc Document) (string, error) {
	coll, err := t.collection(name)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", name, err)
	}

	for _, field := range coll.unique {
		value, ok := doc[field]
		if !ok {
			continue
		}

		if t.matchAny(coll, name, Filter{field: value}) {
			return "", fmt.Errorf("insert into %s: %w: %s", name, ErrDuplicateKey, field)
		}
	}

	id, err := ident.New()
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", name, err)
	}

	stored := withoutID(doc)
	stored[IDField] = id
	t.staged[name] = append(t.staged[name], stored)

	return id, nil
}

func (t *memoryTx) Find(ctx context.Context, name Name, q Query) ([]Document, error) {
	coll, err := t.collection(name)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, err)
	}

	var out []Document

	for _, doc := range t.all(coll, name) {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}

		if matches(doc, q.Filter) {
			out = append(out, doc.Clone())
		}
	}

	return out, nil
}

func (t *memoryTx) all(coll *memoryCollection, name Name) []Document {
	return slices.Concat(coll.docs, t.staged[name])
}

func (t *memoryTx) matchAny(coll *memoryCollection, name Name, filter Filter) bool {
	return slices.ContainsFunc(t.all(coll, name), func(doc Document) bool {
		return matches(doc, filter)
	})
}

func matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}

	return true
}
