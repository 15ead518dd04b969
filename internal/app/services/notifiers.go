package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/pkg/storage"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// LedgerListener appends every finalized decision to the decision log.
type LedgerListener struct {
	Ledger repositories.DecisionLog
}

func (l LedgerListener) DecisionFinalized(ctx context.Context, evt community.DecisionEvent) error {
	if l.Ledger == nil {
		return nil
	}
	return l.Ledger.Append(ctx, evt)
}

// JournalListener writes finalized decisions to the event journal.
type JournalListener struct {
	Journal EventJournal
}

func (l JournalListener) DecisionFinalized(_ context.Context, evt community.DecisionEvent) error {
	if l.Journal == nil {
		return nil
	}
	return l.Journal.Write(evt.CommunityID, evt)
}

// ObjectSnapshotPublisher stores snapshots as JSON objects:
// snapshots/<community>/leaderboard.json and calendar-<yyyy>-<mm>.json.
type ObjectSnapshotPublisher struct {
	storage storage.Service
	log     waLog.Logger
}

func NewObjectSnapshotPublisher(svc storage.Service, log waLog.Logger) *ObjectSnapshotPublisher {
	if svc == nil {
		return nil
	}
	return &ObjectSnapshotPublisher{storage: svc, log: log}
}

func (p *ObjectSnapshotPublisher) PublishLeaderboard(ctx context.Context, board community.Leaderboard) error {
	return p.put(ctx, fmt.Sprintf("snapshots/%s/leaderboard.json", board.CommunityID), board)
}

func (p *ObjectSnapshotPublisher) PublishCalendar(ctx context.Context, cal community.Calendar) error {
	return p.put(ctx, fmt.Sprintf("snapshots/%s/calendar-%04d-%02d.json", cal.CommunityID, cal.Year, int(cal.Month)), cal)
}

func (p *ObjectSnapshotPublisher) put(ctx context.Context, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	url, err := p.storage.PutObject(ctx, storage.UploadInput{
		Key:          key,
		ContentType:  "application/json",
		CacheControl: "no-cache",
		Body:         bytes.NewReader(buf),
		Size:         int64(len(buf)),
	})
	if err != nil {
		return err
	}
	if p.log != nil {
		p.log.Debugf("snapshot published to %s", url)
	}
	return nil
}
