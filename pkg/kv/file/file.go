// Package file provides a [kv.Store] persisted as a single JSON document on
// the local filesystem, suitable for desktop installs with one user.
//
// Values must themselves be valid JSON; they are embedded byte for byte so
// [Store.Get] returns exactly what [Store.Set] stored, apart from leading and
// trailing whitespace. Every write replaces the file atomically via a
// temporary file and rename.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// ErrInvalidValue is returned by [Store.Set] when value is not valid JSON.
var ErrInvalidValue = errors.New("file: value is not valid JSON")

// Store persists key/value pairs in a JSON file.
// Thread-safe for concurrent use within one process.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store backed by the file at path. The file and its parent
// directory are created lazily on the first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get implements [kv.Store.Get].
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return slices.Clone([]byte(v)), nil
}

// Set implements [kv.Store.Set].
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("%w: key %q", ErrInvalidValue, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc[key] = json.RawMessage(slices.Clone(value))
	return s.write(doc)
}

// Delete implements [kv.Store.Delete].
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.write(doc)
}

// read loads the document. A missing file yields an empty document.
// Must be called with s.mu held.
func (s *Store) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %q: %w", s.path, err)
	}

	doc := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("file: decode %q: %w", s.path, err)
	}
	return doc, nil
}

// write replaces the file contents atomically. Must be called with s.mu held.
func (s *Store) write(doc map[string]json.RawMessage) error {
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("file: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file: create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".phonocorrect-*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("file: rename: %w", err)
	}
	return nil
}

// encode renders doc with one key per line and sorted keys. Values are
// copied verbatim; encoding/json would compact them and escape HTML.
func encode(doc map[string]json.RawMessage) ([]byte, error) {
	keys := slices.Sorted(maps.Keys(doc))

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteString("\n  ")
		buf.Write(name)
		buf.WriteString(": ")
		buf.Write(bytes.TrimSpace(doc[k]))
	}
	if len(keys) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}
