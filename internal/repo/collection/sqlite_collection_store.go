package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	"github.com/mkrupp/homecase-accounts/internal/util/ident"
)

// SQLiteStoreConfig holds configuration for the SQLite collection store.
type SQLiteStoreConfig struct {
	// DatabasePath is the filesystem path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" default:"var/storage/accounts.db"`
}

// SQLiteStore implements Store using SQLite as the storage backend.
// Each collection is a table of JSON documents keyed by id.
type SQLiteStore struct {
	db        *sql.DB
	log       logging.Logger
	writeLock *sync.Mutex // go-sqlite does not support concurrent writes
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStoreFactory creates a factory function that returns a new SQLiteStore.
func SQLiteStoreFactory(cfg SQLiteStoreConfig) StoreFactory {
	return func(ctx context.Context) (Store, error) {
		return NewSQLiteStore(ctx, cfg)
	}
}

// NewSQLiteStore creates a new SQLiteStore with the given configuration.
// Returns an error if the database cannot be opened.
func NewSQLiteStore(ctx context.Context, cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	log := logging.GetLogger("repo.collection.sqlite_collection_store").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	db, err := sql.Open("sqlite", cfg.DatabasePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping db: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteStore{
		db:        db,
		log:       log,
		writeLock: new(sync.Mutex),
	}, nil
}

// EnsureCollections implements Store.EnsureCollections using SQLite.
func (s *SQLiteStore) EnsureCollections(ctx context.Context, specs ...Spec) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}

		table := quoteIdent(string(spec.Name))

		if _, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS `+table+` (
				id   TEXT PRIMARY KEY,
				body TEXT NOT NULL
			)
		`); err != nil {
			return fmt.Errorf("create collection %s: %w", spec.Name, err)
		}

		for _, field := range spec.Unique {
			index := quoteIdent(string(spec.Name) + "_" + field + "_key")

			if _, err := s.db.ExecContext(ctx,
				"CREATE UNIQUE INDEX IF NOT EXISTS "+index+" ON "+table+" ("+sqliteField(field)+")",
			); err != nil {
				return fmt.Errorf("create unique index %s.%s: %w", spec.Name, field, err)
			}
		}
	}

	return nil
}

// RunInTransaction implements Store.RunInTransaction using SQLite.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, scope LockScope, fn TxFunc) error {
	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return err
	}

	if !scope.ReadOnly() {
		s.writeLock.Lock()
		defer s.writeLock.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", classifySQLiteError(err))
	}

	tx := &sqliteTx{tx: sqlTx}
	committed := false

	defer func() {
		tx.done = true

		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.WarnContext(ctx, "rollback failed", "error", rbErr)
			}
		}
	}()

	if err := fn(ctx, Guard(tx, scope)); err != nil {
		return err
	}

	committed = true

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", classifySQLiteError(err))
	}

	return nil
}

// Close implements Store.Close by closing the database connection.
func (s *SQLiteStore) Close(context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}

type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) Insert(ctx context.Context, name Name, doc Document) (string, error) {
	if t.done {
		return "", ErrTxDone
	}

	id, err := ident.New()
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", name, err)
	}

	body, err := json.Marshal(withoutID(doc))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx,
		"INSERT INTO "+quoteIdent(string(name))+" (id, body) VALUES (?, ?)",
		id,
		string(body),
	); err != nil {
		return "", fmt.Errorf("insert into %s: %w", name, classifySQLiteError(err))
	}

	return id, nil
}

func (t *sqliteTx) Find(ctx context.Context, name Name, q Query) ([]Document, error) {
	if t.done {
		return nil, ErrTxDone
	}

	var (
		where []string
		args  []any
	)

	for _, field := range q.Filter.Fields() {
		value := q.Filter[field]

		column := "id"
		if field != IDField {
			column = sqliteField(field)
		}

		if value == nil {
			where = append(where, column+" IS NULL")

			continue
		}

		where = append(where, column+" = ?")
		args = append(args, value)
	}

	query := "SELECT id, body FROM " + quoteIdent(string(name))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}

	query += " ORDER BY rowid LIMIT ?"
	args = append(args, limit)

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, classifySQLiteError(err))
	}
	defer rows.Close() //nolint:errcheck

	var docs []Document

	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}

		doc := Document{}
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}

		doc[IDField] = id
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, classifySQLiteError(err))
	}

	return docs, nil
}

func sqliteField(field string) string {
	return "json_extract(body, '$." + field + "')"
}

func classifySQLiteError(err error) error {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return err
	}

	switch code := liteErr.Code(); {
	case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return errors.Join(ErrDuplicateKey, err)
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
		return errors.Join(ErrWriteConflict, err)
	case strings.Contains(liteErr.Error(), "no such table"):
		return errors.Join(ErrNoCollection, err)
	default:
		return err
	}
}
