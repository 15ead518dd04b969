package ballot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

// MaxCandidates caps how many proposals a weekly ballot carries.
const MaxCandidates = 25

type Status string

const (
	StatusOpen   Status = "Open"
	StatusClosed Status = "Closed"
)

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch Status(raw) {
	case StatusOpen, StatusClosed:
		*s = Status(raw)
		return nil
	}
	return fmt.Errorf("%w: ballot status %q", domainerrors.ErrMalformedState, raw)
}

// Ballot is the weekly plurality vote over active proposals.
type Ballot struct {
	ID          string            `json:"id"`
	CommunityID string            `json:"communityId"`
	Candidates  []string          `json:"candidates"`
	Votes       map[string]string `json:"votes"`
	Status      Status            `json:"status"`
	OpenedAt    time.Time         `json:"openedAt"`
	ClosedAt    *time.Time        `json:"closedAt,omitempty"`
	WinnerID    string            `json:"winnerId,omitempty"`
}

// Candidate is the ranking input for one proposal.
type Candidate struct {
	ID            string
	AverageRating float64
}

// Rank orders candidates by average rating, highest first, lower id first on
// ties, and keeps at most limit entries.
func Rank(candidates []Candidate, limit int) []string {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].AverageRating != sorted[j].AverageRating {
			return sorted[i].AverageRating > sorted[j].AverageRating
		}
		return sorted[i].ID < sorted[j].ID
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]string, 0, len(sorted))
	for _, c := range sorted {
		out = append(out, c.ID)
	}
	return out
}

func New(id, communityID string, candidates []string, now time.Time) *Ballot {
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return &Ballot{
		ID:          id,
		CommunityID: communityID,
		Candidates:  append([]string(nil), candidates...),
		Votes:       map[string]string{},
		Status:      StatusOpen,
		OpenedAt:    now.UTC(),
	}
}

func (b *Ballot) HasCandidate(id string) bool {
	for _, c := range b.Candidates {
		if c == id {
			return true
		}
	}
	return false
}

// Cast records voter's candidate; a later cast replaces the earlier one.
func (b *Ballot) Cast(voterID, candidateID string) error {
	if b.Status != StatusOpen {
		return domainerrors.ErrBallotClosed
	}
	if strings.TrimSpace(voterID) == "" {
		return domainerrors.ErrEmptyField
	}
	if !b.HasCandidate(candidateID) {
		return domainerrors.ErrInvalidChoice
	}
	if b.Votes == nil {
		b.Votes = map[string]string{}
	}
	b.Votes[voterID] = candidateID
	return nil
}

func (b *Ballot) Retract(voterID string) bool {
	if b.Status != StatusOpen {
		return false
	}
	if _, ok := b.Votes[voterID]; !ok {
		return false
	}
	delete(b.Votes, voterID)
	return true
}

// Counts returns votes per candidate, ignoring stale entries.
func (b *Ballot) Counts() map[string]int {
	counts := make(map[string]int, len(b.Candidates))
	for _, candidate := range b.Votes {
		if b.HasCandidate(candidate) {
			counts[candidate]++
		}
	}
	return counts
}

// Winner picks the candidate with the most votes, the lowest id on ties.
// ok is false when nobody voted.
func (b *Ballot) Winner() (id string, votes int, ok bool) {
	for candidate, n := range b.Counts() {
		if n > votes || (n == votes && n > 0 && candidate < id) {
			id, votes = candidate, n
		}
	}
	return id, votes, votes > 0
}

// Close settles the ballot; it reports false when it was already closed.
func (b *Ballot) Close(now time.Time) bool {
	if b.Status == StatusClosed {
		return false
	}
	ts := now.UTC()
	b.Status = StatusClosed
	b.ClosedAt = &ts
	if winner, _, ok := b.Winner(); ok {
		b.WinnerID = winner
	}
	return true
}
