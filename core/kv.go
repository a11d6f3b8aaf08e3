package core

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore is the persistence capability: an opaque key-value storage holding whole documents.
type KeyValueStore interface {
	// Get returns ErrKeyNotFound if nothing was ever stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
