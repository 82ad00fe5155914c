package collection

import (
	"errors"
	"fmt"
)

// Store drivers accepted by NewStoreFactory.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned for an unsupported StoreConfig.Driver.
var ErrUnknownDriver = errors.New("unknown store driver")

// StoreConfig selects and configures a Store implementation.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "mongo" or "postgres"
	Driver string `env:"DRIVER" default:"sqlite"`

	SQLite   SQLiteStoreConfig   `envPrefix:"SQLITE_"`
	Mongo    MongoStoreConfig    `envPrefix:"MONGO_"`
	Postgres PostgresStoreConfig `envPrefix:"POSTGRES_"`
}

// NewStoreFactory returns the StoreFactory for the configured driver.
func NewStoreFactory(cfg StoreConfig) (StoreFactory, error) {
	switch cfg.Driver {
	case DriverMemory:
		return MemoryStoreFactory(), nil
	case DriverSQLite:
		return SQLiteStoreFactory(cfg.SQLite), nil
	case DriverMongo:
		return MongoStoreFactory(cfg.Mongo), nil
	case DriverPostgres:
		return PostgresStoreFactory(cfg.Postgres), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
