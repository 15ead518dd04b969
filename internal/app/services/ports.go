package services

import (
	"context"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
)

// Directory resolves capabilities and applies decision effects on the chat
// platform. Implementations wrap domain ErrPermission / ErrNotFound so callers
// can classify failures.
type Directory interface {
	// EligibleVoters lists holders of capability, automated participants excluded.
	EligibleVoters(ctx context.Context, communityID string, capability decision.Capability) ([]string, error)
	HasCapability(ctx context.Context, communityID, participantID string, capability decision.Capability) (bool, error)
	IsAutomated(ctx context.Context, communityID, participantID string) (bool, error)
	ApplyEffect(ctx context.Context, communityID string, effect decision.Effect, participantID string) error
}

// Announcer publishes to the community chat.
type Announcer interface {
	// AnnounceDecision posts an opened decision and returns the anchors that
	// turn reactions into votes.
	AnnounceDecision(ctx context.Context, opened community.DecisionOpened) ([]community.VoteAnchor, error)
	Announce(ctx context.Context, communityID, text string) error
}

// DecisionListener is notified once per finalized decision.
type DecisionListener interface {
	DecisionFinalized(ctx context.Context, evt community.DecisionEvent) error
}

// SnapshotPublisher receives the periodic leaderboard and calendar views.
type SnapshotPublisher interface {
	PublishLeaderboard(ctx context.Context, board community.Leaderboard) error
	PublishCalendar(ctx context.Context, cal community.Calendar) error
}

// EventJournal appends raw governance events for auditing.
type EventJournal interface {
	Write(instance string, evt any) error
}

type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

type noopAnnouncer struct{}

func (noopAnnouncer) AnnounceDecision(context.Context, community.DecisionOpened) ([]community.VoteAnchor, error) {
	return nil, nil
}

func (noopAnnouncer) Announce(context.Context, string, string) error { return nil }

// NoopAnnouncer discards announcements; used when no chat session is configured.
var NoopAnnouncer Announcer = noopAnnouncer{}
