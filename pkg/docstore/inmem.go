package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type record struct {
	collection string
	version    int64
	data       json.RawMessage
}

// InMemStore implements Store using in-memory storage. Commits are serialized
// under a store-wide lock, which gives each document the single-writer
// atomicity the session contract requires.
type InMemStore struct {
	mu   sync.RWMutex
	docs map[string]record
}

// NewInMemStore creates a new in-memory document store.
func NewInMemStore() *InMemStore {
	return &InMemStore{
		docs: make(map[string]record),
	}
}

// OpenSession starts a new unit of work against the store.
func (s *InMemStore) OpenSession() Session {
	return &inmemSession{
		store:   s,
		loaded:  make(map[string]int64),
		deletes: make(map[string]bool),
	}
}

type inmemSession struct {
	store   *InMemStore
	loaded  map[string]int64 // key -> version seen at load time (0 = absent)
	writes  []Document
	deletes map[string]bool
}

func (s *inmemSession) Load(ctx context.Context, key string, out any) (bool, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	rec, ok := s.store.docs[key]
	if !ok {
		s.loaded[key] = 0
		return false, nil
	}

	if err := json.Unmarshal(rec.data, out); err != nil {
		return false, fmt.Errorf("failed to decode document %s: %w", key, err)
	}
	s.loaded[key] = rec.version
	return true, nil
}

func (s *inmemSession) LoadMany(ctx context.Context, keys []string, each func(key string, raw json.RawMessage) error) error {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	for _, key := range keys {
		rec, ok := s.store.docs[key]
		if !ok {
			s.loaded[key] = 0
			continue
		}
		s.loaded[key] = rec.version
		if err := each(key, rec.data); err != nil {
			return err
		}
	}
	return nil
}

func (s *inmemSession) Query(collection string) *Query {
	return newQuery(collection, s)
}

func (s *inmemSession) Store(doc Document) {
	s.writes = append(s.writes, doc)
}

func (s *inmemSession) Delete(doc Document) {
	s.deletes[doc.DocumentKey()] = true
}

func (s *inmemSession) DeleteKey(key string) {
	s.deletes[key] = true
}

func (s *inmemSession) SaveChanges(ctx context.Context) error {
	// Marshal before taking the lock so a marshal failure cannot leave a
	// partial commit behind.
	type staged struct {
		key        string
		collection string
		data       json.RawMessage
	}
	var order []string
	byKey := make(map[string]staged)
	for _, doc := range s.writes {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", doc.DocumentKey(), err)
		}
		key := doc.DocumentKey()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = staged{key: key, collection: doc.DocumentCollection(), data: data}
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	// Validate every staged write first; commits are all or nothing.
	for _, key := range order {
		rec, exists := s.store.docs[key]
		if seen, ok := s.loaded[key]; ok {
			var current int64
			if exists {
				current = rec.version
			}
			if current != seen {
				return &ConcurrencyError{Key: key}
			}
		} else if exists {
			// Blind create of an existing key is the uniqueness race.
			return &ConcurrencyError{Key: key}
		}
	}
	for key := range s.deletes {
		seen, ok := s.loaded[key]
		if !ok || seen == 0 {
			continue
		}
		rec, exists := s.store.docs[key]
		if !exists || rec.version != seen {
			return &ConcurrencyError{Key: key}
		}
	}

	for _, key := range order {
		w := byKey[key]
		var version int64 = 1
		if rec, exists := s.store.docs[key]; exists {
			version = rec.version + 1
		}
		s.store.docs[key] = record{collection: w.collection, version: version, data: w.data}
		s.loaded[key] = version
	}
	for key := range s.deletes {
		delete(s.store.docs, key)
		s.loaded[key] = 0
	}

	s.writes = nil
	s.deletes = make(map[string]bool)
	return nil
}

func (s *inmemSession) runQuery(ctx context.Context, q *Query) (Result, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	var keys []string
	for key, rec := range s.store.docs {
		if rec.collection != q.collection {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(rec.data, &fields); err != nil {
			return Result{}, fmt.Errorf("failed to decode document %s: %w", key, err)
		}
		if matchesAll(fields, q.filters) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	result := Result{Total: len(keys)}
	if q.skip >= len(keys) {
		return result, nil
	}
	keys = keys[q.skip:]
	if q.take >= 0 && q.take < len(keys) {
		keys = keys[:q.take]
	}
	for _, key := range keys {
		result.Docs = append(result.Docs, s.store.docs[key].data)
	}
	return result, nil
}

func matchesAll(fields map[string]any, filters []filter) bool {
	for _, f := range filters {
		if !matches(fields, f) {
			return false
		}
	}
	return true
}

func matches(fields map[string]any, f filter) bool {
	value, ok := fields[f.field]
	if !ok {
		return false
	}
	switch f.kind {
	case filterEq:
		s, ok := value.(string)
		return ok && s == f.value
	case filterContains:
		s, ok := value.(string)
		return ok && strings.Contains(s, f.value)
	case filterAnyEq:
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		for _, el := range arr {
			if s, ok := el.(string); ok && s == f.value {
				return true
			}
		}
	}
	return false
}
