package storage

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/storage/database"
	sqlxkv "github.com/trezcool/planner/storage/database/sqlx"
	filekv "github.com/trezcool/planner/storage/file"
	inmemkv "github.com/trezcool/planner/storage/inmem"
	rediskv "github.com/trezcool/planner/storage/redis"
)

// Engines
const (
	EngineMemory   = "memory"
	EngineFile     = "file"
	EngineRedis    = "redis"
	EnginePostgres = "postgres"
)

// Open returns the key-value storage selected by conf.Engine and a func releasing its resources.
func Open(ctx context.Context, conf core.StorageConfig) (core.KeyValueStore, func() error, error) {
	noop := func() error { return nil }

	switch conf.Engine {
	case EngineMemory:
		return inmemkv.Open(), noop, nil
	case EngineFile, "":
		kv, err := filekv.Open(conf.FileDir)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening file storage")
		}
		return kv, noop, nil
	case EngineRedis:
		kv, err := rediskv.Open(ctx, conf)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening redis storage")
		}
		return kv, kv.Close, nil
	case EnginePostgres:
		db, err := database.Setup(conf.Database)
		if err != nil {
			return nil, nil, errors.Wrap(err, "setting up database")
		}
		kv := sqlxkv.New(db)
		return kv, kv.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown storage engine %q", conf.Engine)
	}
}
