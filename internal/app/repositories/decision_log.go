package repositories

import (
	"context"

	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// DecisionLog keeps one entry per finalized decision.
type DecisionLog interface {
	// Append is idempotent on (community, decision key).
	Append(ctx context.Context, evt community.DecisionEvent) error
	// List returns the most recent entries first, at most limit (0 = all).
	List(ctx context.Context, communityID string, limit int) ([]community.DecisionEvent, error)
}

type storeDecisionLog struct {
	records *Records[community.DecisionEvent]
}

// NewStoreDecisionLog keeps the ledger inside the workflow store.
func NewStoreDecisionLog(store WorkflowStore, log waLog.Logger) DecisionLog {
	return &storeDecisionLog{records: NewRecords[community.DecisionEvent](store, CollectionDecisionLog, log)}
}

func (l *storeDecisionLog) Append(ctx context.Context, evt community.DecisionEvent) error {
	return l.records.Upsert(ctx, evt.CommunityID, evt.DecisionKey, func(current *community.DecisionEvent) (*community.DecisionEvent, error) {
		if current != nil {
			return nil, ErrSkipUpdate
		}
		return &evt, nil
	})
}

func (l *storeDecisionLog) List(ctx context.Context, communityID string, limit int) ([]community.DecisionEvent, error) {
	items, err := l.records.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	out := make([]community.DecisionEvent, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, *items[i].Value)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
