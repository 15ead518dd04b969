package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// fileWorkflowStore keeps records in memory and snapshots each collection to
// <dir>/<collection>.json after every mutation.
type fileWorkflowStore struct {
	*memoryWorkflowStore
	dir   string
	log   waLog.Logger
	mu    sync.Mutex
	files map[Collection]*sync.Mutex
}

type fileSnapshot struct {
	SavedAt     time.Time                  `json:"savedAt"`
	Communities map[string]json.RawMessage `json:"communities"`
}

type fileEntry struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

// NewFileWorkflowStore opens (or creates) a directory of JSON snapshots.
// Unreadable snapshots are logged, moved aside and treated as empty.
func NewFileWorkflowStore(dir string, log waLog.Logger) (WorkflowStore, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	s := &fileWorkflowStore{
		memoryWorkflowStore: newMemoryWorkflowStore(),
		dir:                 dir,
		log:                 log,
		files:               make(map[Collection]*sync.Mutex),
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, path := range matches {
		collection := Collection(strings.TrimSuffix(filepath.Base(path), ".json"))
		s.restore(collection, path)
	}
	return s, nil
}

func (s *fileWorkflowStore) restore(collection Collection, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.warnf("workflow store: read %s: %v", path, err)
		return
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.warnf("workflow store: %s is malformed, starting %s empty: %v", path, collection, err)
		s.quarantine(path)
		return
	}
	for community, raw := range snap.Communities {
		var entries []fileEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			s.warnf("workflow store: %s/%s is malformed, starting empty: %v", community, collection, err)
			continue
		}
		loaded := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if e.Key == "" || len(e.Record) == 0 {
				continue
			}
			loaded = append(loaded, Entry{Key: e.Key, Value: []byte(e.Record)})
		}
		s.load(community, collection, loaded)
	}
}

func (s *fileWorkflowStore) quarantine(path string) {
	aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, aside); err != nil {
		s.warnf("workflow store: could not move %s aside: %v", path, err)
	}
}

func (s *fileWorkflowStore) fileLock(collection Collection) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.files[collection]
	if !ok {
		m = &sync.Mutex{}
		s.files[collection] = m
	}
	return m
}

// persist writes the latest state of collection. The snapshot is taken after
// acquiring the file lock, so the last writer always writes the newest state.
func (s *fileWorkflowStore) persist(ctx context.Context, collection Collection) error {
	m := s.fileLock(collection)
	m.Lock()
	defer m.Unlock()

	snap := fileSnapshot{SavedAt: time.Now().UTC(), Communities: map[string]json.RawMessage{}}
	for _, community := range s.communitiesOf(collection) {
		entries, err := s.memoryWorkflowStore.List(ctx, community, collection)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		out := make([]fileEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, fileEntry{Key: e.Key, Record: json.RawMessage(e.Value)})
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		snap.Communities[community] = raw
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, string(collection)+".json")
	tmp, err := os.CreateTemp(s.dir, "."+string(collection)+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func validRecord(value []byte) error {
	if value != nil && !json.Valid(value) {
		return fmt.Errorf("%w: file store only accepts JSON records", ErrMalformedRecord)
	}
	return nil
}

func (s *fileWorkflowStore) Put(ctx context.Context, communityID string, collection Collection, key string, value []byte) error {
	return s.Upsert(ctx, communityID, collection, key, func([]byte) ([]byte, error) { return value, nil })
}

func (s *fileWorkflowStore) Delete(ctx context.Context, communityID string, collection Collection, key string) error {
	prev, err := s.memoryWorkflowStore.Get(ctx, communityID, collection, key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.memoryWorkflowStore.Delete(ctx, communityID, collection, key); err != nil {
		return err
	}
	if err := s.persist(ctx, collection); err != nil {
		s.restoreKey(ctx, communityID, collection, key, prev, nil)
		return err
	}
	return nil
}

func (s *fileWorkflowStore) UpdateIfPresent(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) (bool, error) {
	var (
		changed    bool
		prev, next []byte
	)
	found, err := s.memoryWorkflowStore.UpdateIfPresent(ctx, communityID, collection, key, func(current []byte) ([]byte, error) {
		out, err := mutate(current)
		if err == nil {
			err = validRecord(out)
		}
		changed = err == nil
		prev, next = current, out
		return out, err
	})
	if err != nil || !changed {
		return found, err
	}
	if err := s.persist(ctx, collection); err != nil {
		s.restoreKey(ctx, communityID, collection, key, prev, next)
		return found, err
	}
	return found, nil
}

func (s *fileWorkflowStore) Upsert(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) error {
	var (
		changed    bool
		prev, next []byte
	)
	err := s.memoryWorkflowStore.Upsert(ctx, communityID, collection, key, func(current []byte) ([]byte, error) {
		out, err := mutate(current)
		if err == nil {
			err = validRecord(out)
		}
		changed = err == nil
		prev, next = current, out
		return out, err
	})
	if err != nil || !changed {
		return err
	}
	if err := s.persist(ctx, collection); err != nil {
		s.restoreKey(ctx, communityID, collection, key, prev, next)
		return err
	}
	return nil
}

func (s *fileWorkflowStore) UpdateCollection(ctx context.Context, communityID string, collection Collection, mutate CollectionMutator) error {
	var (
		changed    bool
		prev, next []Entry
	)
	err := s.memoryWorkflowStore.UpdateCollection(ctx, communityID, collection, func(entries []Entry) ([]Entry, error) {
		out, err := mutate(entries)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			if verr := validRecord(e.Value); verr != nil {
				return nil, verr
			}
		}
		changed = true
		prev, next = entries, out
		return out, nil
	})
	if err != nil || !changed {
		return err
	}
	if err := s.persist(ctx, collection); err != nil {
		s.restoreCollection(ctx, communityID, collection, prev, next)
		return err
	}
	return nil
}

// restoreKey puts prev back when the record still holds the value whose
// write failed to reach disk. A later writer's value is left alone.
func (s *fileWorkflowStore) restoreKey(ctx context.Context, communityID string, collection Collection, key string, prev, written []byte) {
	err := s.memoryWorkflowStore.Upsert(ctx, communityID, collection, key, func(current []byte) ([]byte, error) {
		if !bytes.Equal(current, written) {
			return nil, ErrSkipUpdate
		}
		return prev, nil
	})
	if err != nil {
		s.warnf("workflow store: rollback %s/%s/%s: %v", communityID, collection, key, err)
	}
}

func (s *fileWorkflowStore) restoreCollection(ctx context.Context, communityID string, collection Collection, prev, written []Entry) {
	err := s.memoryWorkflowStore.UpdateCollection(ctx, communityID, collection, func(current []Entry) ([]Entry, error) {
		if !sameEntries(current, written) {
			return nil, ErrSkipUpdate
		}
		return prev, nil
	})
	if err != nil {
		s.warnf("workflow store: rollback %s/%s: %v", communityID, collection, err)
	}
}

func sameEntries(current, written []Entry) bool {
	want := make(map[string][]byte, len(written))
	for _, e := range written {
		if e.Value != nil {
			want[e.Key] = e.Value
		}
	}
	if len(current) != len(want) {
		return false
	}
	for _, e := range current {
		v, ok := want[e.Key]
		if !ok || !bytes.Equal(v, e.Value) {
			return false
		}
	}
	return true
}

func (s *fileWorkflowStore) warnf(format string, args ...any) {
	if s.log != nil {
		s.log.Warnf(format, args...)
	}
}

var _ WorkflowStore = (*fileWorkflowStore)(nil)
