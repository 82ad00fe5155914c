package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	"github.com/mkrupp/homecase-accounts/internal/util/ident"
)

const (
	pgCodeUniqueViolation      = "23505"
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
	pgCodeUndefinedTable       = "42P01"
)

// PostgresStoreConfig holds configuration for the Postgres collection store.
type PostgresStoreConfig struct {
	// DSN is the connection string passed to the pgx driver
	DSN string `env:"DSN" default:"postgres://localhost:5432/accounts?sslmode=disable"`
}

// PostgresStore implements Store with one JSONB table per collection.
//
// Units of work run SERIALIZABLE. Written collections are locked in SHARE ROW
// EXCLUSIVE mode before the first query, so writers to the same collection
// queue behind each other and each sees the previous one's commit.
type PostgresStore struct {
	db  *sql.DB
	log logging.Logger
}

var _ Store = (*PostgresStore)(nil)

// PostgresStoreFactory creates a factory function that returns a new PostgresStore.
func PostgresStoreFactory(cfg PostgresStoreConfig) StoreFactory {
	return func(ctx context.Context) (Store, error) {
		return NewPostgresStore(ctx, cfg)
	}
}

// NewPostgresStore opens a connection pool and verifies it.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	log := logging.GetLogger("repo.collection.postgres_collection_store")

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, log: log}, nil
}

// EnsureCollections implements Store.EnsureCollections using Postgres.
func (s *PostgresStore) EnsureCollections(ctx context.Context, specs ...Spec) error {
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}

		table := quoteIdent(string(spec.Name))

		if _, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS `+table+` (
				seq  BIGSERIAL PRIMARY KEY,
				id   TEXT      UNIQUE NOT NULL,
				body JSONB     NOT NULL
			)
		`); err != nil {
			return fmt.Errorf("create collection %s: %w", spec.Name, err)
		}

		for _, field := range spec.Unique {
			index := quoteIdent(string(spec.Name) + "_" + field + "_key")

			if _, err := s.db.ExecContext(ctx,
				"CREATE UNIQUE INDEX IF NOT EXISTS "+index+" ON "+table+" (("+postgresField(field)+"))",
			); err != nil {
				return fmt.Errorf("create unique index %s.%s: %w", spec.Name, field, err)
			}
		}
	}

	return nil
}

// RunInTransaction implements Store.RunInTransaction using Postgres.
func (s *PostgresStore) RunInTransaction(ctx context.Context, scope LockScope, fn TxFunc) error {
	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  scope.ReadOnly(),
	})
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", classifyPostgresError(err))
	}

	tx := &postgresTx{tx: sqlTx}
	committed := false

	defer func() {
		tx.done = true

		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.WarnContext(ctx, "rollback failed", "error", rbErr)
			}
		}
	}()

	for _, name := range scope.Write {
		if _, err := sqlTx.ExecContext(ctx,
			"LOCK TABLE "+quoteIdent(string(name))+" IN SHARE ROW EXCLUSIVE MODE",
		); err != nil {
			return fmt.Errorf("lock collection %s: %w", name, classifyPostgresError(err))
		}
	}

	if err := fn(ctx, Guard(tx, scope)); err != nil {
		return err
	}

	committed = true

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", classifyPostgresError(err))
	}

	return nil
}

// Close implements Store.Close by closing the connection pool.
func (s *PostgresStore) Close(context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}

type postgresTx struct {
	tx   *sql.Tx
	done bool
}

func (t *postgresTx) Insert(ctx context.Context, name Name, doc Document) (string, error) {
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
		"INSERT INTO "+quoteIdent(string(name))+" (id, body) VALUES ($1, $2::jsonb)",
		id,
		string(body),
	); err != nil {
		return "", fmt.Errorf("insert into %s: %w", name, classifyPostgresError(err))
	}

	return id, nil
}

func (t *postgresTx) Find(ctx context.Context, name Name, q Query) ([]Document, error) {
	if t.done {
		return nil, ErrTxDone
	}

	filter := Filter{}
	id, byID := q.Filter[IDField]

	for field, value := range q.Filter {
		if field != IDField {
			filter[field] = value
		}
	}

	contains, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}

	query := "SELECT id, body FROM " + quoteIdent(string(name)) + " WHERE body @> $1::jsonb"
	args := []any{string(contains)}

	if byID {
		query += " AND id = $2"
		args = append(args, fmt.Sprint(id))
	}

	query += " ORDER BY seq"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, classifyPostgresError(err))
	}
	defer rows.Close() //nolint:errcheck

	var docs []Document

	for rows.Next() {
		var (
			docID string
			body  []byte
		)

		if err := rows.Scan(&docID, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}

		doc := Document{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", docID, err)
		}

		doc[IDField] = docID
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, classifyPostgresError(err))
	}

	return docs, nil
}

func postgresField(field string) string {
	return "body->>'" + field + "'"
}

func classifyPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgCodeUniqueViolation:
		return errors.Join(ErrDuplicateKey, err)
	case pgCodeSerializationFailure, pgCodeDeadlockDetected:
		return errors.Join(ErrWriteConflict, err)
	case pgCodeUndefinedTable:
		return errors.Join(ErrNoCollection, err)
	default:
		return err
	}
}
