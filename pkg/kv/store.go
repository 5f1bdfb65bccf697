// Package kv defines the key-value persistence collaborator used by the
// phonocorrect engine.
//
// The engine never decides how data is stored. It hands whole collections
// (custom rules, built-in rule state, user preferences) to a [Store] as opaque
// JSON documents under fixed keys and reads them back on start-up. Backends
// live in sub-packages:
//
//   - [github.com/MrWong99/phonocorrect/pkg/kv/memory]: in-process map.
//   - [github.com/MrWong99/phonocorrect/pkg/kv/file]: single JSON file on disk.
//   - [github.com/MrWong99/phonocorrect/pkg/kv/postgres]: PostgreSQL JSONB table.
//   - [github.com/MrWong99/phonocorrect/pkg/kv/redis]: Redis string keys.
//
// Every implementation must be safe for concurrent use.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by [Store.Get] when no value is stored under the key.
var ErrNotFound = errors.New("kv: key not found")

// Store is a minimal byte-oriented key-value store.
type Store interface {
	// Get returns the value stored under key.
	// Returns [ErrNotFound] when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key from s and decodes it into dst.
// It reports found=false (and leaves dst untouched) when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dst any) (found bool, err error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v as JSON and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
