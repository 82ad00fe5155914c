package collection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
)

const (
	mongoLabelTransientTransaction = "TransientTransactionError"
	mongoCodeNamespaceNotFound     = 26
	mongoCodeNamespaceExists       = 48
	mongoCodeWriteConflict         = 112
)

// MongoStoreConfig holds configuration for the MongoDB collection store.
type MongoStoreConfig struct {
	// URI is the MongoDB connection string; transactions require a replica set
	URI string `env:"URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`

	// Database is the name of the database holding the collections
	Database string `env:"DATABASE" default:"accounts"`

	// ConnectTimeout bounds the initial connection and ping
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" default:"10s"`
}

// MongoStore implements Store on top of MongoDB multi-document transactions.
//
// Every unit of work runs in its own session with snapshot reads and majority
// writes. Transactions are started and committed explicitly; the driver's
// retrying helper is not used, so a conflicting unit of work fails instead of
// being run again.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    logging.Logger
}

var _ Store = (*MongoStore)(nil)

// MongoStoreFactory creates a factory function that returns a new MongoStore.
func MongoStoreFactory(cfg MongoStoreConfig) StoreFactory {
	return func(ctx context.Context) (Store, error) {
		return NewMongoStore(ctx, cfg)
	}
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoStoreConfig) (*MongoStore, error) {
	log := logging.GetLogger("repo.collection.mongo_collection_store").With(
		logging.Group("db", "name", cfg.Database),
	)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log,
	}, nil
}

// EnsureCollections implements Store.EnsureCollections using MongoDB.
func (s *MongoStore) EnsureCollections(ctx context.Context, specs ...Spec) error {
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}

		names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: string(spec.Name)}})
		if err != nil {
			return fmt.Errorf("list collections: %w", err)
		}

		if !slices.Contains(names, string(spec.Name)) {
			err := s.db.CreateCollection(ctx, string(spec.Name))
			if err != nil && !hasMongoCode(err, mongoCodeNamespaceExists) {
				return fmt.Errorf("create collection %s: %w", spec.Name, err)
			}

			s.log.DebugContext(ctx, "collection created", "collection", spec.Name)
		}

		for _, field := range spec.Unique {
			if _, err := s.db.Collection(string(spec.Name)).Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys:    bson.D{{Key: field, Value: 1}},
				Options: options.Index().SetUnique(true).SetName(field + "_key"),
			}); err != nil {
				return fmt.Errorf("create unique index %s.%s: %w", spec.Name, field, err)
			}
		}
	}

	return nil
}

// RunInTransaction implements Store.RunInTransaction using a MongoDB session.
func (s *MongoStore) RunInTransaction(ctx context.Context, scope LockScope, fn TxFunc) error {
	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return err
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	if err := sess.StartTransaction(options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()),
	); err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}

	tx := &mongoTx{db: s.db, sess: sess}
	committed := false

	defer func() {
		tx.done = true

		if !committed {
			if abortErr := sess.AbortTransaction(context.WithoutCancel(ctx)); abortErr != nil {
				s.log.WarnContext(ctx, "abort failed", "error", abortErr)
			}
		}
	}()

	if err := fn(mongo.NewSessionContext(ctx, sess), Guard(tx, scope)); err != nil {
		return err
	}

	committed = true

	if err := sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit unit of work: %w", classifyMongoError(err))
	}

	return nil
}

// Close implements Store.Close by disconnecting the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}

	return nil
}

type mongoTx struct {
	db   *mongo.Database
	sess mongo.Session
	done bool
}

func (t *mongoTx) Insert(ctx context.Context, name Name, doc Document) (string, error) {
	if t.done {
		return "", ErrTxDone
	}

	res, err := t.db.Collection(string(name)).InsertOne(
		mongo.NewSessionContext(ctx, t.sess),
		bson.M(withoutID(doc)),
	)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", name, classifyMongoError(err))
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert into %s: unexpected id type %T", name, res.InsertedID)
	}

	return oid.Hex(), nil
}

func (t *mongoTx) Find(ctx context.Context, name Name, q Query) ([]Document, error) {
	if t.done {
		return nil, ErrTxDone
	}

	filter := bson.D{}

	for _, field := range q.Filter.Fields() {
		value := q.Filter[field]

		if field == IDField {
			hex, _ := value.(string)

			oid, err := primitive.ObjectIDFromHex(hex)
			if err != nil {
				return nil, nil
			}

			value = oid
		}

		filter = append(filter, bson.E{Key: field, Value: value})
	}

	opts := options.Find().SetSort(bson.D{{Key: IDField, Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	sctx := mongo.NewSessionContext(ctx, t.sess)

	cur, err := t.db.Collection(string(name)).Find(sctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, classifyMongoError(err))
	}

	var raw []bson.M
	if err := cur.All(sctx, &raw); err != nil {
		return nil, fmt.Errorf("find in %s: %w", name, classifyMongoError(err))
	}

	docs := make([]Document, 0, len(raw))

	for _, m := range raw {
		doc := Document(m)
		if oid, ok := m[IDField].(primitive.ObjectID); ok {
			doc[IDField] = oid.Hex()
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

func hasMongoCode(err error, code int) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return int(cmdErr.Code) == code
	}

	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		return srvErr.HasErrorCode(code)
	}

	return false
}

func classifyMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return errors.Join(ErrDuplicateKey, err)
	}

	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel(mongoLabelTransientTransaction) {
		return errors.Join(ErrWriteConflict, err)
	}

	switch {
	case hasMongoCode(err, mongoCodeWriteConflict):
		return errors.Join(ErrWriteConflict, err)
	case hasMongoCode(err, mongoCodeNamespaceNotFound):
		return errors.Join(ErrNoCollection, err)
	default:
		return err
	}
}
