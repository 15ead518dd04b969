package repositories

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/faeln1/go-whatsapp-council/pkg/keylock"
)

type bucketID struct {
	community  string
	collection Collection
}

type memoryBucket struct {
	gate    sync.RWMutex // held exclusively by UpdateCollection
	mu      sync.RWMutex
	seq     uint64
	entries map[string]*memoryRecord
}

type memoryRecord struct {
	seq   uint64
	value []byte
}

type memoryWorkflowStore struct {
	mu      sync.Mutex
	buckets map[bucketID]*memoryBucket
	keys    *keylock.Locker
}

// NewInMemoryWorkflowStore returns a process-local store.
func NewInMemoryWorkflowStore() WorkflowStore {
	return newMemoryWorkflowStore()
}

func newMemoryWorkflowStore() *memoryWorkflowStore {
	return &memoryWorkflowStore{buckets: make(map[bucketID]*memoryBucket), keys: keylock.New()}
}

func (s *memoryWorkflowStore) bucket(communityID string, collection Collection) *memoryBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := bucketID{community: communityID, collection: collection}
	b, ok := s.buckets[id]
	if !ok {
		b = &memoryBucket{entries: make(map[string]*memoryRecord)}
		s.buckets[id] = b
	}
	return b
}

func (s *memoryWorkflowStore) Get(ctx context.Context, communityID string, collection Collection, key string) ([]byte, error) {
	b := s.bucket(communityID, collection)
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.entries[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneBytes(rec.value), nil
}

func (s *memoryWorkflowStore) Put(ctx context.Context, communityID string, collection Collection, key string, value []byte) error {
	return s.Upsert(ctx, communityID, collection, key, func([]byte) ([]byte, error) { return value, nil })
}

func (s *memoryWorkflowStore) Delete(ctx context.Context, communityID string, collection Collection, key string) error {
	b := s.bucket(communityID, collection)
	b.gate.RLock()
	defer b.gate.RUnlock()
	unlock := s.keys.Lock(lockKey(communityID, collection, key))
	defer unlock()
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (s *memoryWorkflowStore) List(ctx context.Context, communityID string, collection Collection) ([]Entry, error) {
	b := s.bucket(communityID, collection)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot(), nil
}

func (b *memoryBucket) snapshot() []Entry {
	type seqEntry struct {
		seq uint64
		Entry
	}
	items := make([]seqEntry, 0, len(b.entries))
	for k, rec := range b.entries {
		items = append(items, seqEntry{seq: rec.seq, Entry: Entry{Key: k, Value: cloneBytes(rec.value)}})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]Entry, len(items))
	for i, it := range items {
		out[i] = it.Entry
	}
	return out
}

func (s *memoryWorkflowStore) UpdateIfPresent(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) (bool, error) {
	found := false
	err := s.update(communityID, collection, key, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrSkipUpdate
		}
		found = true
		return mutate(current)
	})
	return found, err
}

func (s *memoryWorkflowStore) Upsert(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) error {
	return s.update(communityID, collection, key, mutate)
}

func (s *memoryWorkflowStore) update(communityID string, collection Collection, key string, mutate Mutator) error {
	b := s.bucket(communityID, collection)
	b.gate.RLock()
	defer b.gate.RUnlock()
	unlock := s.keys.Lock(lockKey(communityID, collection, key))
	defer unlock()

	b.mu.RLock()
	var current []byte
	if rec, ok := b.entries[key]; ok {
		current = cloneBytes(rec.value)
	}
	b.mu.RUnlock()

	next, err := mutate(current)
	if errors.Is(err, ErrSkipUpdate) {
		return nil
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if next == nil {
		delete(b.entries, key)
		return nil
	}
	if rec, ok := b.entries[key]; ok {
		rec.value = cloneBytes(next)
		return nil
	}
	b.seq++
	b.entries[key] = &memoryRecord{seq: b.seq, value: cloneBytes(next)}
	return nil
}

func (s *memoryWorkflowStore) UpdateCollection(ctx context.Context, communityID string, collection Collection, mutate CollectionMutator) error {
	b := s.bucket(communityID, collection)
	b.gate.Lock()
	defer b.gate.Unlock()

	b.mu.RLock()
	current := b.snapshot()
	b.mu.RUnlock()

	next, err := mutate(current)
	if errors.Is(err, ErrSkipUpdate) {
		return nil
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	replaced := make(map[string]*memoryRecord, len(next))
	for _, e := range next {
		if e.Value == nil {
			continue
		}
		if old, ok := b.entries[e.Key]; ok {
			replaced[e.Key] = &memoryRecord{seq: old.seq, value: cloneBytes(e.Value)}
			continue
		}
		b.seq++
		replaced[e.Key] = &memoryRecord{seq: b.seq, value: cloneBytes(e.Value)}
	}
	b.entries = replaced
	return nil
}

func (s *memoryWorkflowStore) Communities(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	ids := make([]bucketID, 0, len(s.buckets))
	buckets := make([]*memoryBucket, 0, len(s.buckets))
	for id, b := range s.buckets {
		ids = append(ids, id)
		buckets = append(buckets, b)
	}
	s.mu.Unlock()

	seen := make(map[string]struct{})
	for i, b := range buckets {
		b.mu.RLock()
		n := len(b.entries)
		b.mu.RUnlock()
		if n > 0 {
			seen[ids[i].community] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryWorkflowStore) Close() error { return nil }

// load seeds a bucket without locking; used while restoring from disk.
func (s *memoryWorkflowStore) load(communityID string, collection Collection, entries []Entry) {
	b := s.bucket(communityID, collection)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		if _, ok := b.entries[e.Key]; ok {
			continue
		}
		b.seq++
		b.entries[e.Key] = &memoryRecord{seq: b.seq, value: cloneBytes(e.Value)}
	}
}

func (s *memoryWorkflowStore) communitiesOf(collection Collection) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.buckets {
		if id.collection == collection {
			out = append(out, id.community)
		}
	}
	sort.Strings(out)
	return out
}
