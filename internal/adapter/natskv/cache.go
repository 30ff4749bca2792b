// Package natskv implements the cache and context store ports on NATS
// JetStream KV buckets.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache wraps a NATS JetStream KeyValue bucket as an L2 cache. Keys are
// namespaced by prefix so several caches can share one bucket.
type Cache struct {
	kv     jetstream.KeyValue
	prefix string
}

// NewCache creates a NATS KV-backed cache.
func NewCache(kv jetstream.KeyValue, prefix string) *Cache {
	return &Cache{kv: kv, prefix: prefix}
}

func (c *Cache) key(key string) (string, error) {
	k := key
	if c.prefix != "" {
		k = c.prefix + "." + key
	}
	if err := checkKey(k); err != nil {
		return "", err
	}
	return k, nil
}

// Get retrieves a value. A missing or deleted key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	k, err := c.key(key)
	if err != nil {
		return nil, false, err
	}
	entry, err := c.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get %s: %w", k, err)
	}
	return entry.Value(), true, nil
}

// Set stores a value. TTL is managed at bucket level.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	k, err := c.key(key)
	if err != nil {
		return err
	}
	if _, err := c.kv.Put(ctx, k, value); err != nil {
		return fmt.Errorf("kv put %s: %w", k, err)
	}
	return nil
}

// Delete removes a value. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	k, err := c.key(key)
	if err != nil {
		return err
	}
	err = c.kv.Delete(ctx, k)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", k, err)
	}
	return nil
}
