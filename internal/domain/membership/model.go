package membership

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

// RecommendationStatus: Pending -> Approved | Withdrawn.
type RecommendationStatus string

const (
	RecommendationPending   RecommendationStatus = "Pending"
	RecommendationApproved  RecommendationStatus = "Approved"
	RecommendationWithdrawn RecommendationStatus = "Withdrawn"
)

func (s RecommendationStatus) valid() bool {
	switch s {
	case RecommendationPending, RecommendationApproved, RecommendationWithdrawn:
		return true
	}
	return false
}

func (s *RecommendationStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !RecommendationStatus(raw).valid() {
		return fmt.Errorf("%w: recommendation status %q", domainerrors.ErrMalformedState, raw)
	}
	*s = RecommendationStatus(raw)
	return nil
}

// ExclusionStatus: Pending -> Approved | Rejected.
type ExclusionStatus string

const (
	ExclusionPending  ExclusionStatus = "Pending"
	ExclusionApproved ExclusionStatus = "Approved"
	ExclusionRejected ExclusionStatus = "Rejected"
)

func (s ExclusionStatus) valid() bool {
	switch s {
	case ExclusionPending, ExclusionApproved, ExclusionRejected:
		return true
	}
	return false
}

func (s *ExclusionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !ExclusionStatus(raw).valid() {
		return fmt.Errorf("%w: exclusion status %q", domainerrors.ErrMalformedState, raw)
	}
	*s = ExclusionStatus(raw)
	return nil
}

// Recommendation proposes granting the member capability to a candidate.
type Recommendation struct {
	ID            string               `json:"id"`
	CommunityID   string               `json:"communityId"`
	CandidateID   string               `json:"candidateId"`
	RecommenderID string               `json:"recommenderId"`
	CreatedAt     time.Time            `json:"createdAt"`
	Status        RecommendationStatus `json:"status"`
}

// Transition moves a pending recommendation to a terminal status.
func (r *Recommendation) Transition(next RecommendationStatus) error {
	if r.Status != RecommendationPending || next == RecommendationPending || !next.valid() {
		return fmt.Errorf("%w: recommendation %s -> %s", domainerrors.ErrIllegalTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// ExclusionRequest proposes removing a participant from the community.
type ExclusionRequest struct {
	ID          string          `json:"id"`
	CommunityID string          `json:"communityId"`
	TargetID    string          `json:"targetId"`
	InitiatorID string          `json:"initiatorId"`
	Reason      string          `json:"reason"`
	Status      ExclusionStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (e *ExclusionRequest) Transition(next ExclusionStatus) error {
	if e.Status != ExclusionPending || next == ExclusionPending || !next.valid() {
		return fmt.Errorf("%w: exclusion %s -> %s", domainerrors.ErrIllegalTransition, e.Status, next)
	}
	e.Status = next
	return nil
}

// NewRecommendation validates the fields the caller controls.
func NewRecommendation(id, communityID, candidateID, recommenderID string, now time.Time) (*Recommendation, error) {
	candidateID = strings.TrimSpace(candidateID)
	recommenderID = strings.TrimSpace(recommenderID)
	if candidateID == "" || recommenderID == "" {
		return nil, domainerrors.ErrEmptyField
	}
	if candidateID == recommenderID {
		return nil, domainerrors.ErrSelfTarget
	}
	return &Recommendation{
		ID:            id,
		CommunityID:   communityID,
		CandidateID:   candidateID,
		RecommenderID: recommenderID,
		CreatedAt:     now.UTC(),
		Status:        RecommendationPending,
	}, nil
}

func NewExclusionRequest(id, communityID, targetID, initiatorID, reason string, now time.Time) (*ExclusionRequest, error) {
	targetID = strings.TrimSpace(targetID)
	initiatorID = strings.TrimSpace(initiatorID)
	if targetID == "" || initiatorID == "" {
		return nil, domainerrors.ErrEmptyField
	}
	if targetID == initiatorID {
		return nil, domainerrors.ErrSelfTarget
	}
	return &ExclusionRequest{
		ID:          id,
		CommunityID: communityID,
		TargetID:    targetID,
		InitiatorID: initiatorID,
		Reason:      strings.TrimSpace(reason),
		Status:      ExclusionPending,
		CreatedAt:   now.UTC(),
	}, nil
}
