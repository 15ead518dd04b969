package circle

import (
	"regexp"
	"strconv"
	"strings"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

// MaxMembers is the capacity of every circle.
const MaxMembers = 10

var colorPattern = regexp.MustCompile(`^#?[0-9A-Fa-f]{6}$`)

// Circle is a small sub-group that proposes events and earns a score.
type Circle struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	ColorValue  int      `json:"colorValue"`
	MemberIDs   []string `json:"memberIds"`
	Description string   `json:"description,omitempty"`
}

// GroupScore is the monthly tally of ballot wins for a circle.
type GroupScore struct {
	GroupID string `json:"groupId"`
	Score   int    `json:"score"`
	// LastBallotID is the last ballot whose win was credited here.
	LastBallotID string `json:"lastBallotId,omitempty"`
}

// Credit adds one point for ballotID unless that ballot was already credited.
func (g *GroupScore) Credit(ballotID string) bool {
	if ballotID != "" && g.LastBallotID == ballotID {
		return false
	}
	g.Score++
	g.LastBallotID = ballotID
	return true
}

type CreateInput struct {
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
	FounderID   string `json:"founderId"`
}

// ParseColor turns "#RRGGBB" into its integer value.
func ParseColor(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if !colorPattern.MatchString(raw) {
		return 0, domainerrors.ErrInvalidColor
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 16, 32)
	if err != nil {
		return 0, domainerrors.ErrInvalidColor
	}
	return int(v), nil
}

func New(id string, in CreateInput) (*Circle, error) {
	name := strings.TrimSpace(in.DisplayName)
	founder := strings.TrimSpace(in.FounderID)
	if name == "" || founder == "" {
		return nil, domainerrors.ErrEmptyField
	}
	color, err := ParseColor(in.Color)
	if err != nil {
		return nil, err
	}
	return &Circle{
		ID:          id,
		DisplayName: name,
		ColorValue:  color,
		MemberIDs:   []string{founder},
		Description: strings.TrimSpace(in.Description),
	}, nil
}

func (c *Circle) Has(participantID string) bool {
	for _, m := range c.MemberIDs {
		if m == participantID {
			return true
		}
	}
	return false
}

func (c *Circle) Full() bool {
	return len(c.MemberIDs) >= MaxMembers
}

func (c *Circle) Add(participantID string) error {
	if c.Has(participantID) {
		return nil
	}
	if c.Full() {
		return domainerrors.ErrCircleFull
	}
	c.MemberIDs = append(c.MemberIDs, participantID)
	return nil
}

// Remove drops participantID and reports whether it was a member.
func (c *Circle) Remove(participantID string) bool {
	for i, m := range c.MemberIDs {
		if m == participantID {
			c.MemberIDs = append(c.MemberIDs[:i], c.MemberIDs[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Circle) Empty() bool {
	return len(c.MemberIDs) == 0
}
