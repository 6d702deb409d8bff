// Package kv wraps a NATS JetStream key-value bucket for the join
// operator's cross-restart buffer storage, grounded on the teacher's
// internal/kv/kv.go, with the schema-versioning wire format dropped (this
// implementation has no schema registry to version against).
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

var ErrNotFound = errors.New("key not found")

// KeyValueStore is the join operator's durable key-value interface,
// spec §4.5.
type KeyValueStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

type KeyValueStoreConfig struct {
	StoreName string
	TTL       time.Duration
}

type NATSKeyValueStore struct {
	kv jetstream.KeyValue
}

func NewNATSKeyValueStore(ctx context.Context, js jetstream.JetStream, cfg KeyValueStoreConfig) (*NATSKeyValueStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.StoreName,
		TTL:    cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create or update key-value store %q: %w", cfg.StoreName, err)
	}

	return &NATSKeyValueStore{kv: kv}, nil
}

func (k *NATSKeyValueStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := k.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put key %q: %w", key, err)
	}
	return nil
}

func (k *NATSKeyValueStore) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get key %q: %w", key, err)
	}
	return item.Value(), nil
}

func (k *NATSKeyValueStore) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

func (k *NATSKeyValueStore) Keys(ctx context.Context) ([]string, error) {
	lister, err := k.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}
