// Package redis provides a [kv.Store] backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// DefaultPrefix is prepended to every key unless overridden.
const DefaultPrefix = "phonocorrect:"

// Client is the subset of the go-redis API used by [Store].
// *goredis.Client and *goredis.ClusterClient satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// Store is a [kv.Store] persisted in Redis.
type Store struct {
	client Client
	prefix string
	ttl    time.Duration
	close  func() error
}

// Option configures a [Store].
type Option func(*Store)

// WithPrefix sets the key prefix. An empty prefix disables prefixing.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithTTL sets an expiry on every written key. Zero (the default) means keys
// never expire.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New wraps an existing client. The caller owns client.
func New(client Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial creates a client for addr and verifies connectivity with PING.
// Call [Store.Close] to release it.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis kv: ping %s: %w", addr, err)
	}
	s := New(client, opts...)
	s.close = client.Close
	return s, nil
}

// Close releases a client created by [Dial]. It is a no-op otherwise.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (s *Store) key(k string) string { return s.prefix + k }

// Get implements [kv.Store.Get].
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis kv: get %q: %w", key, err)
	}
	return b, nil
}

// Set implements [kv.Store.Set].
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis kv: set %q: %w", key, err)
	}
	return nil
}

// Delete implements [kv.Store.Delete]. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis kv: delete %q: %w", key, err)
	}
	return nil
}
