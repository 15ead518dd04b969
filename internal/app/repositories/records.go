package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// Keyed pairs a decoded record with its store key.
type Keyed[T any] struct {
	Key   string
	Value *T
}

// Records is a typed JSON view over one collection of a WorkflowStore.
// Records that fail to decode are logged and skipped.
type Records[T any] struct {
	store      WorkflowStore
	collection Collection
	log        waLog.Logger
}

func NewRecords[T any](store WorkflowStore, collection Collection, log waLog.Logger) *Records[T] {
	return &Records[T]{store: store, collection: collection, log: log}
}

func (r *Records[T]) Collection() Collection { return r.collection }

func (r *Records[T]) decode(communityID, key string, raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		if r.log != nil {
			r.log.Warnf("ignoring malformed %s record %s/%s: %v", r.collection, communityID, key, err)
		}
		return nil, fmt.Errorf("%w: %s/%s/%s: %v", ErrMalformedRecord, communityID, r.collection, key, err)
	}
	return &v, nil
}

// Get returns ErrRecordNotFound or ErrMalformedRecord when no usable record exists.
func (r *Records[T]) Get(ctx context.Context, communityID, key string) (*T, error) {
	raw, err := r.store.Get(ctx, communityID, r.collection, key)
	if err != nil {
		return nil, err
	}
	return r.decode(communityID, key, raw)
}

func (r *Records[T]) Put(ctx context.Context, communityID, key string, v *T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, communityID, r.collection, key, raw)
}

func (r *Records[T]) Delete(ctx context.Context, communityID, key string) error {
	return r.store.Delete(ctx, communityID, r.collection, key)
}

// List decodes the collection in insertion order.
func (r *Records[T]) List(ctx context.Context, communityID string) ([]Keyed[T], error) {
	entries, err := r.store.List(ctx, communityID, r.collection)
	if err != nil {
		return nil, err
	}
	out := make([]Keyed[T], 0, len(entries))
	for _, e := range entries {
		v, err := r.decode(communityID, e.Key, e.Value)
		if err != nil {
			continue
		}
		out = append(out, Keyed[T]{Key: e.Key, Value: v})
	}
	return out, nil
}

// Update mutates an existing record in place. fn may return ErrSkipUpdate to
// leave the record untouched; a malformed record is never handed to fn.
func (r *Records[T]) Update(ctx context.Context, communityID, key string, fn func(v *T) error) (bool, error) {
	return r.store.UpdateIfPresent(ctx, communityID, r.collection, key, func(current []byte) ([]byte, error) {
		v, err := r.decode(communityID, key, current)
		if err != nil {
			return nil, err
		}
		if err := fn(v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

// Upsert hands fn the current record (nil when absent or malformed). A nil
// result deletes the record.
func (r *Records[T]) Upsert(ctx context.Context, communityID, key string, fn func(current *T) (*T, error)) error {
	return r.store.Upsert(ctx, communityID, r.collection, key, func(current []byte) ([]byte, error) {
		var cur *T
		if current != nil {
			if v, err := r.decode(communityID, key, current); err == nil {
				cur = v
			}
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		return json.Marshal(next)
	})
}

// UpdateAll rewrites the collection atomically. Malformed entries are kept
// verbatim and not shown to fn.
func (r *Records[T]) UpdateAll(ctx context.Context, communityID string, fn func(items []Keyed[T]) ([]Keyed[T], error)) error {
	return r.store.UpdateCollection(ctx, communityID, r.collection, func(entries []Entry) ([]Entry, error) {
		var (
			items     []Keyed[T]
			malformed []Entry
		)
		for _, e := range entries {
			v, err := r.decode(communityID, e.Key, e.Value)
			if err != nil {
				malformed = append(malformed, e)
				continue
			}
			items = append(items, Keyed[T]{Key: e.Key, Value: v})
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		out := append([]Entry(nil), malformed...)
		for _, item := range next {
			if item.Value == nil {
				continue
			}
			raw, err := json.Marshal(item.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, Entry{Key: item.Key, Value: raw})
		}
		return out, nil
	})
}

// IsMissing reports whether err means "no usable record".
func IsMissing(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrMalformedRecord)
}
