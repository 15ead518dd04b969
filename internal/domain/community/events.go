package community

import (
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
)

// DecisionEvent is emitted once when a decision reaches its terminal outcome.
type DecisionEvent struct {
	Timestamp     time.Time        `json:"timestamp"`
	CommunityID   string           `json:"communityId"`
	DecisionKey   string           `json:"decisionKey"`
	Kind          decision.Kind    `json:"kind"`
	RecordID      string           `json:"recordId"`
	Outcome       decision.Outcome `json:"outcome"`
	WinningChoice decision.Choice  `json:"winningChoice,omitempty"`
	Subject       string           `json:"subject,omitempty"`
	EffectError   string           `json:"effectError,omitempty"`
}

// DecisionOpened describes a decision to announce so participants can vote.
type DecisionOpened struct {
	CommunityID string           `json:"communityId"`
	DecisionKey string           `json:"decisionKey"`
	Kind        decision.Kind    `json:"kind"`
	Title       string           `json:"title"`
	Body        string           `json:"body,omitempty"`
	Options     []DecisionOption `json:"options"`
}

// DecisionOption is one selectable choice; ballots carry one per candidate.
type DecisionOption struct {
	Choice decision.Choice `json:"choice"`
	Label  string          `json:"label"`
}

// VoteAnchor binds an announced message to the decision it votes on.
type VoteAnchor struct {
	MessageID   string          `json:"messageId"`
	CommunityID string          `json:"communityId"`
	DecisionKey string          `json:"decisionKey"`
	Choice      decision.Choice `json:"choice,omitempty"`
}

// VoteSignal is an inbound vote as delivered by the chat platform. An empty
// Choice retracts the voter's current choice.
type VoteSignal struct {
	CommunityID string          `json:"communityId"`
	DecisionKey string          `json:"decisionKey"`
	VoterID     string          `json:"voterId"`
	Choice      decision.Choice `json:"choice,omitempty"`
	ReceivedAt  time.Time       `json:"receivedAt"`
}
