// Package decision holds the vocabulary shared by every vote-driven workflow:
// decision keys, choices, tallies and the strict-majority rule.
package decision

import (
	"fmt"
	"strings"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

type Kind string

const (
	KindRecommendation Kind = "recommendation"
	KindExclusion      Kind = "exclusion"
	KindProposal       Kind = "proposal"
	KindBallot         Kind = "ballot"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRecommendation, KindExclusion, KindProposal, KindBallot:
		return true
	}
	return false
}

// Binary reports whether decisions of this kind are settled by yes/no majority.
func (k Kind) Binary() bool {
	return k == KindRecommendation || k == KindExclusion || k == KindProposal
}

// Key identifies one decision inside a community.
type Key struct {
	CommunityID string `json:"communityId"`
	Kind        Kind   `json:"kind"`
	ID          string `json:"id"`
}

func NewKey(communityID string, kind Kind, id string) Key {
	return Key{CommunityID: communityID, Kind: kind, ID: id}
}

// String is the community-local form used as a store key: "<kind>:<id>".
func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}

// ParseKey reverses Key.String for the given community.
func ParseKey(communityID, raw string) (Key, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || id == "" || !Kind(kind).Valid() {
		return Key{}, fmt.Errorf("%w: decision key %q", domainerrors.ErrInvalidInput, raw)
	}
	return Key{CommunityID: communityID, Kind: Kind(kind), ID: id}, nil
}

// Choice is "yes"/"no" on binary decisions or a candidate id on ballots.
type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

func (c Choice) Binary() bool {
	return c == ChoiceYes || c == ChoiceNo
}

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

func (o Outcome) Terminal() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

// Capability names a permission resolved by the directory.
type Capability string

const (
	CapabilityMember        Capability = "member"
	CapabilityAdmin         Capability = "admin"
	CapabilityMonthlyWinner Capability = "monthly_winner"
)

// Effect is a side effect applied to a participant once a decision settles.
type Effect string

const (
	EffectGrantMember       Effect = "grant_member"
	EffectRemoveParticipant Effect = "remove_participant"
	EffectGrantWinner       Effect = "grant_monthly_winner"
	EffectRevokeWinner      Effect = "revoke_monthly_winner"
)

// TiePolicy decides the outcome when yes and no both reach the threshold.
type TiePolicy string

const (
	TieApprove TiePolicy = "approve"
	TieReject  TiePolicy = "reject"
)

func ParseTiePolicy(raw string) TiePolicy {
	if strings.EqualFold(strings.TrimSpace(raw), string(TieReject)) {
		return TieReject
	}
	return TieApprove
}

// Threshold is the strict majority of eligible voters: floor(n/2)+1.
func Threshold(eligible int) int {
	if eligible < 0 {
		eligible = 0
	}
	return eligible/2 + 1
}

// Tally is the persisted vote record of one decision.
type Tally struct {
	Key           string            `json:"key"`
	Votes         map[string]Choice `json:"votes"`
	Outcome       Outcome           `json:"outcome"`
	WinningChoice Choice            `json:"winningChoice,omitempty"`
	OpenedAt      time.Time         `json:"openedAt"`
	FinalizedAt   *time.Time        `json:"finalizedAt,omitempty"`
}

func NewTally(key Key, now time.Time) *Tally {
	return &Tally{Key: key.String(), Votes: map[string]Choice{}, Outcome: OutcomePending, OpenedAt: now.UTC()}
}

// Terminal is the marker that makes every later vote a no-op.
func (t *Tally) Terminal() bool {
	return t != nil && t.Outcome.Terminal()
}

// Cast records voter's choice, replacing any earlier one.
func (t *Tally) Cast(voterID string, choice Choice) error {
	if !choice.Binary() {
		return domainerrors.ErrInvalidChoice
	}
	if strings.TrimSpace(voterID) == "" {
		return domainerrors.ErrEmptyField
	}
	if t.Votes == nil {
		t.Votes = map[string]Choice{}
	}
	t.Votes[voterID] = choice
	return nil
}

// Retract drops voter's choice and reports whether one existed.
func (t *Tally) Retract(voterID string) bool {
	if _, ok := t.Votes[voterID]; !ok {
		return false
	}
	delete(t.Votes, voterID)
	return true
}

// Finalize stamps the terminal outcome.
func (t *Tally) Finalize(outcome Outcome, now time.Time) {
	ts := now.UTC()
	t.Outcome = outcome
	t.FinalizedAt = &ts
	if outcome == OutcomeApproved {
		t.WinningChoice = ChoiceYes
	} else {
		t.WinningChoice = ChoiceNo
	}
}

// Result is the evaluation of a tally against the current eligible set.
type Result struct {
	Key           Key     `json:"key"`
	Outcome       Outcome `json:"outcome"`
	Yes           int     `json:"yes"`
	No            int     `json:"no"`
	Eligible      int     `json:"eligible"`
	Threshold     int     `json:"threshold"`
	WinningChoice Choice  `json:"winningChoice,omitempty"`
}

// Evaluate counts only choices of currently eligible voters and applies the
// strict-majority rule.
func Evaluate(votes map[string]Choice, eligible []string, policy TiePolicy) Result {
	set := make(map[string]struct{}, len(eligible))
	for _, id := range eligible {
		set[id] = struct{}{}
	}
	res := Result{Eligible: len(set), Threshold: Threshold(len(set)), Outcome: OutcomePending}
	for voter, choice := range votes {
		if _, ok := set[voter]; !ok {
			continue
		}
		switch choice {
		case ChoiceYes:
			res.Yes++
		case ChoiceNo:
			res.No++
		}
	}

	yesWins := res.Yes >= res.Threshold
	noWins := res.No >= res.Threshold
	switch {
	case yesWins && noWins:
		if policy == TieReject {
			res.Outcome, res.WinningChoice = OutcomeRejected, ChoiceNo
		} else {
			res.Outcome, res.WinningChoice = OutcomeApproved, ChoiceYes
		}
	case yesWins:
		res.Outcome, res.WinningChoice = OutcomeApproved, ChoiceYes
	case noWins:
		res.Outcome, res.WinningChoice = OutcomeRejected, ChoiceNo
	}
	return res
}
