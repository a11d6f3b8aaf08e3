package rediskv

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/planner/core"
)

// Store keeps values as plain redis strings under prefix+key.
type Store struct {
	client *redis.Client
	prefix string
}

var _ core.KeyValueStore = (*Store)(nil) // interface compliance check

func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Open connects to redis and waits for it to answer a PING.
func Open(ctx context.Context, conf core.StorageConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return New(client, conf.RedisPrefix), nil
}

func (s *Store) Key(key string) string { return s.prefix + key }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "redis GET")
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return errors.Wrap(s.client.Set(ctx, s.Key(key), value, 0).Err(), "redis SET")
}

func (s *Store) Close() error {
	return s.client.Close()
}
