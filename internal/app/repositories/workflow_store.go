package repositories

import (
	"context"
	"errors"
	"fmt"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

// Collection names a record family inside a community.
type Collection string

const (
	CollectionRecommendations Collection = "recommendations"
	CollectionExclusions      Collection = "exclusions"
	CollectionProposals       Collection = "proposals"
	CollectionBallots         Collection = "ballots"
	CollectionScores          Collection = "group_scores"
	CollectionCircles         Collection = "circles"
	CollectionTallies         Collection = "tallies"
	CollectionAnchors         Collection = "vote_anchors"
	CollectionCheckpoints     Collection = "checkpoints"
	CollectionDecisionLog     Collection = "decision_log"
)

var (
	ErrRecordNotFound  = fmt.Errorf("%w: record", domainerrors.ErrNotFound)
	ErrMalformedRecord = fmt.Errorf("%w: record", domainerrors.ErrMalformedState)

	// ErrSkipUpdate aborts a mutation without writing and without failing.
	ErrSkipUpdate = errors.New("skip update")
)

// Entry is one stored record.
type Entry struct {
	Key   string
	Value []byte
}

// Mutator receives the current value (nil when absent) and returns the value
// to store. Returning a nil value deletes the record.
type Mutator func(current []byte) ([]byte, error)

// CollectionMutator rewrites a whole collection. Kept keys retain their
// insertion position; new keys are appended in the returned order.
type CollectionMutator func(entries []Entry) ([]Entry, error)

// WorkflowStore persists workflow records per community and collection.
// Mutations on one key are serialized; communities never share a critical
// section.
type WorkflowStore interface {
	Get(ctx context.Context, communityID string, collection Collection, key string) ([]byte, error)
	Put(ctx context.Context, communityID string, collection Collection, key string, value []byte) error
	Delete(ctx context.Context, communityID string, collection Collection, key string) error
	// List returns entries in insertion order.
	List(ctx context.Context, communityID string, collection Collection) ([]Entry, error)
	// UpdateIfPresent runs mutate atomically and reports false when the key
	// does not exist.
	UpdateIfPresent(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) (bool, error)
	// Upsert runs mutate atomically whether or not the key exists.
	Upsert(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) error
	// UpdateCollection rewrites a collection atomically against concurrent
	// single-key updates of the same collection.
	UpdateCollection(ctx context.Context, communityID string, collection Collection, mutate CollectionMutator) error
	// Communities lists every community with at least one stored record.
	Communities(ctx context.Context) ([]string, error)
	Close() error
}

func lockKey(communityID string, collection Collection, key string) string {
	return communityID + "\x00" + string(collection) + "\x00" + key
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
