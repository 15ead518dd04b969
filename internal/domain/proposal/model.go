package proposal

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

// Status of an EventProposal.
//
//	PendingGroupApproval -> Active | Rejected
//	Active               -> Validated | Expired
type Status string

const (
	StatusPendingGroupApproval Status = "PendingGroupApproval"
	StatusActive               Status = "Active"
	StatusValidated            Status = "Validated"
	StatusRejected             Status = "Rejected"
	StatusExpired              Status = "Expired"
)

var transitions = map[Status][]Status{
	StatusPendingGroupApproval: {StatusActive, StatusRejected},
	StatusActive:               {StatusValidated, StatusExpired},
}

func (s Status) valid() bool {
	switch s {
	case StatusPendingGroupApproval, StatusActive, StatusValidated, StatusRejected, StatusExpired:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !Status(raw).valid() {
		return fmt.Errorf("%w: proposal status %q", domainerrors.ErrMalformedState, raw)
	}
	*s = Status(raw)
	return nil
}

const (
	MinRating = 1
	MaxRating = 5

	DateLayout = "2006-01-02"
)

// Proposal is an event idea submitted by a circle member.
type Proposal struct {
	ID              string         `json:"id"`
	CommunityID     string         `json:"communityId"`
	Title           string         `json:"title"`
	Category        string         `json:"category"`
	Description     string         `json:"description"`
	ProposerGroupID string         `json:"proposerGroupId"`
	ProposerID      string         `json:"proposerId"`
	ScheduledDate   string         `json:"scheduledDate,omitempty"`
	Ratings         map[string]int `json:"ratings"`
	AverageRating   float64        `json:"averageRating"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
}

type CreateInput struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
	ProposerID  string `json:"proposerId"`
	Date        string `json:"date,omitempty"`
}

// New builds a proposal awaiting its circle's approval.
func New(id, communityID, groupID string, in CreateInput, scheduled *time.Time, now time.Time) (*Proposal, error) {
	title := strings.TrimSpace(in.Title)
	proposer := strings.TrimSpace(in.ProposerID)
	if title == "" || proposer == "" || strings.TrimSpace(groupID) == "" {
		return nil, domainerrors.ErrEmptyField
	}
	p := &Proposal{
		ID:              id,
		CommunityID:     communityID,
		Title:           title,
		Category:        strings.TrimSpace(in.Category),
		Description:     strings.TrimSpace(in.Description),
		ProposerGroupID: groupID,
		ProposerID:      proposer,
		Ratings:         map[string]int{},
		Status:          StatusPendingGroupApproval,
		CreatedAt:       now.UTC(),
	}
	if scheduled != nil {
		p.ScheduledDate = scheduled.Format(DateLayout)
	}
	return p, nil
}

func (p *Proposal) Transition(next Status) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: proposal %s -> %s", domainerrors.ErrIllegalTransition, p.Status, next)
	}
	p.Status = next
	return nil
}

// Activate enters the Active state with an empty rating book.
func (p *Proposal) Activate() error {
	if err := p.Transition(StatusActive); err != nil {
		return err
	}
	p.Ratings = map[string]int{}
	p.AverageRating = 0
	return nil
}

// Rate stores rater's score, overwriting any previous one, and refreshes the
// cached average.
func (p *Proposal) Rate(raterID string, rating int) error {
	if rating < MinRating || rating > MaxRating {
		return domainerrors.ErrInvalidRating
	}
	if strings.TrimSpace(raterID) == "" {
		return domainerrors.ErrEmptyField
	}
	if p.Status != StatusActive {
		return domainerrors.ErrNotRateable
	}
	if p.Ratings == nil {
		p.Ratings = map[string]int{}
	}
	p.Ratings[raterID] = rating
	p.AverageRating = Average(p.Ratings)
	return nil
}

// Date returns the parsed scheduled date, if any.
func (p *Proposal) Date() (time.Time, bool) {
	if p.ScheduledDate == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, p.ScheduledDate)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// Average is the mean rounded to two places, halves to even; an empty rating
// book averages 0.
func Average(ratings map[string]int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	mean := float64(sum) / float64(len(ratings))
	return math.RoundToEven(mean*100) / 100
}
