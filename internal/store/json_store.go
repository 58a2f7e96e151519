package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"sync"
)

type entityPtr[T any] interface {
	*T
	Entity
	Clone() *T
}

// JSONStore keeps a homogeneous collection of entities in memory and mirrors
// it to a single JSON file. Every mutation rewrites the whole file.
//
// The file holds plaintext secrets; it must live in a directory only this
// process can read. The store assumes it is the only writer of the file.
type JSONStore[T any, P entityPtr[T]] struct {
	path  string
	name  string
	mu    sync.RWMutex
	items []P
	index map[string]P
}

func NewJSONStore[T any, P entityPtr[T]](name, path string) *JSONStore[T, P] {
	return &JSONStore[T, P]{
		path:  path,
		name:  name,
		index: make(map[string]P),
	}
}

func (s *JSONStore[T, P]) Path() string {
	return s.path
}

// Load replaces the in-memory collection with the file contents. A missing
// file yields an empty collection.
func (s *JSONStore[T, P]) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.items = nil
		s.index = make(map[string]P)
		s.mu.Unlock()
		slog.DebugContext(ctx, "store file missing, starting empty", "store", s.name, "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s store: %w", s.name, err)
	}

	items, err := decodeEntities[T, P](data)
	if err != nil {
		return fmt.Errorf("decoding %s store %s: %w", s.name, s.path, err)
	}

	index := make(map[string]P, len(items))
	for _, item := range items {
		key := item.StoreKey()
		if _, exists := index[key]; exists {
			return fmt.Errorf("decoding %s store %s: %w: %s", s.name, s.path, ErrDuplicateKey, key)
		}
		index[key] = item
	}

	s.mu.Lock()
	s.items = items
	s.index = index
	s.mu.Unlock()

	slog.DebugContext(ctx, "store loaded", "store", s.name, "path", s.path, "count", len(items))
	return nil
}

// Get looks an entity up by its identity key.
func (s *JSONStore[T, P]) Get(ctx context.Context, key string) (P, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.index[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone[T, P](item), nil
}

// GetBy returns the first entity whose attribute equals value. Secret
// attributes are compared as plaintext.
func (s *JSONStore[T, P]) GetBy(ctx context.Context, attr, value string) (P, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, err := s.find(attr, value)
	if err != nil {
		return nil, err
	}
	return clone[T, P](s.items[i]), nil
}

// Insert adds an entity and persists the collection. It never overwrites an
// existing key.
func (s *JSONStore[T, P]) Insert(ctx context.Context, item P) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", s.name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.StoreKey()
	if _, exists := s.index[key]; exists {
		return fmt.Errorf("%s %s: %w", s.name, key, ErrDuplicateKey)
	}

	stored := clone[T, P](item)
	s.items = append(s.items, stored)
	s.index[key] = stored

	if err := s.persistLocked(); err != nil {
		s.items = s.items[:len(s.items)-1]
		delete(s.index, key)
		return err
	}
	return nil
}

// Delete removes an entity by identity key and persists the collection.
func (s *JSONStore[T, P]) Delete(ctx context.Context, key string) (P, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[key]
	if !ok {
		return nil, ErrNotFound
	}
	i := slices.Index(s.items, item)
	return s.removeLocked(i)
}

// DeleteBy removes the first entity matching attr and persists the collection.
func (s *JSONStore[T, P]) DeleteBy(ctx context.Context, attr, value string) (P, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.find(attr, value)
	if err != nil {
		return nil, err
	}
	return s.removeLocked(i)
}

// List returns a snapshot sorted by creation time, newest first. Entities
// created at the same instant keep insertion order.
func (s *JSONStore[T, P]) List(ctx context.Context) ([]P, error) {
	s.mu.RLock()
	out := make([]P, len(s.items))
	for i, item := range s.items {
		out[i] = clone[T, P](item)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created().After(out[j].Created())
	})
	return out, nil
}

func (s *JSONStore[T, P]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *JSONStore[T, P]) find(attr, value string) (int, error) {
	var zero T
	if _, ok := P(&zero).Attr(attr); !ok {
		return -1, fmt.Errorf("%s has no attribute %q", s.name, attr)
	}
	for i, item := range s.items {
		if v, _ := item.Attr(attr); v == value {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

func (s *JSONStore[T, P]) removeLocked(i int) (P, error) {
	item := s.items[i]
	key := item.StoreKey()

	prev := s.items
	s.items = slices.Delete(slices.Clone(s.items), i, i+1)
	delete(s.index, key)

	if err := s.persistLocked(); err != nil {
		s.items = prev
		s.index[key] = item
		return nil, err
	}
	return clone[T, P](item), nil
}

// persistLocked writes the snapshot as an object keyed by identity key.
// encoding/json sorts map keys, so the output is stable across writes.
func (s *JSONStore[T, P]) persistLocked() error {
	snapshot := make(map[string]P, len(s.items))
	for _, item := range s.items {
		snapshot[item.StoreKey()] = item
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s store: %w", s.name, err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("writing %s store: %w", s.name, err)
	}
	return nil
}

// decodeEntities accepts either an object keyed by identity key or a plain
// array of records.
func decodeEntities[T any, P entityPtr[T]](data []byte) ([]P, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	switch data[0] {
	case '{':
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(data, &byKey); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			raws = append(raws, byKey[k])
		}
	case '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("expected a JSON object or array")
	}

	items := make([]P, 0, len(raws))
	for _, raw := range raws {
		item := P(new(T))
		if err := json.Unmarshal(raw, item); err != nil {
			return nil, err
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Created().Before(items[j].Created())
	})
	return items, nil
}

func clone[T any, P entityPtr[T]](item P) P {
	return P(item.Clone())
}
