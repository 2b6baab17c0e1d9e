package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"prepost-assessment-service/internal/domain"
)

// DocumentStore is an in-memory implementation of app.DocumentStore.
// Documents are normalized through JSON on write, so readers see the same
// value shapes the Redis store produces.
//
// Change callbacks run synchronously in commit order and must not write to
// the store.
type DocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]domain.Document

	deliverMu   sync.Mutex
	nextID      int
	subscribers map[string]map[int]func(domain.Change)
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		collections: make(map[string]map[string]domain.Document),
		subscribers: make(map[string]map[int]func(domain.Change)),
	}
}

func (s *DocumentStore) Get(_ context.Context, collection, key string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][key]
	if !ok {
		return nil, false, nil
	}
	return doc.Merge(nil), true, nil
}

func (s *DocumentStore) Set(_ context.Context, collection, key string, doc domain.Document, merge bool) error {
	normalized, err := doc.Normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]domain.Document)
		s.collections[collection] = docs
	}
	if prev, exists := docs[key]; exists && merge {
		normalized = prev.Merge(normalized)
	}
	docs[key] = normalized
	s.deliverMu.Lock()
	s.mu.Unlock()

	s.notifyLocked(domain.Change{Collection: collection, Key: key, Doc: normalized.Merge(nil)})
	s.deliverMu.Unlock()
	return nil
}

func (s *DocumentStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	if _, ok := s.collections[collection][key]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.collections[collection], key)
	s.deliverMu.Lock()
	s.mu.Unlock()

	s.notifyLocked(domain.Change{Collection: collection, Key: key, Deleted: true})
	s.deliverMu.Unlock()
	return nil
}

func (s *DocumentStore) Exists(_ context.Context, collection, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection][key]
	return ok, nil
}

// List returns the documents whose key starts with prefix, ordered by key.
func (s *DocumentStore) List(_ context.Context, collection, prefix string) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(collection, prefix), nil
}

func (s *DocumentStore) listLocked(collection, prefix string) []domain.Snapshot {
	out := make([]domain.Snapshot, 0)
	for key, doc := range s.collections[collection] {
		if strings.HasPrefix(key, prefix) {
			out = append(out, domain.Snapshot{Key: key, Doc: doc.Merge(nil)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Subscribe delivers every document of collection as a change, then each
// later change, until the returned function is called or ctx is done.
func (s *DocumentStore) Subscribe(ctx context.Context, collection string, onChange func(domain.Change)) (func(), error) {
	s.mu.RLock()
	s.deliverMu.Lock()
	initial := s.listLocked(collection, "")
	s.nextID++
	id := s.nextID
	if s.subscribers[collection] == nil {
		s.subscribers[collection] = make(map[int]func(domain.Change))
	}
	s.subscribers[collection][id] = onChange
	s.mu.RUnlock()

	for _, snap := range initial {
		onChange(domain.Change{Collection: collection, Key: snap.Key, Doc: snap.Doc})
	}
	s.deliverMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.deliverMu.Lock()
			delete(s.subscribers[collection], id)
			s.deliverMu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}, nil
}

func (s *DocumentStore) notifyLocked(change domain.Change) {
	for _, fn := range s.subscribers[change.Collection] {
		fn(change)
	}
}
