package community

import "time"

// GroupStanding is one row of the circle leaderboard.
type GroupStanding struct {
	GroupID     string `json:"groupId"`
	DisplayName string `json:"displayName,omitempty"`
	Score       int    `json:"score"`
}

// RaterStanding counts how many proposals a participant has rated.
type RaterStanding struct {
	RaterID string `json:"raterId"`
	Ratings int    `json:"ratings"`
}

type Leaderboard struct {
	CommunityID string          `json:"communityId"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Groups      []GroupStanding `json:"groups"`
	Raters      []RaterStanding `json:"raters"`
}

// CalendarEntry is a validated proposal placed on its scheduled day.
type CalendarEntry struct {
	ProposalID string `json:"proposalId"`
	Title      string `json:"title"`
	Category   string `json:"category,omitempty"`
	GroupID    string `json:"groupId"`
}

type Calendar struct {
	CommunityID string                     `json:"communityId"`
	Year        int                        `json:"year"`
	Month       time.Month                 `json:"month"`
	Days        map[string][]CalendarEntry `json:"days"`
}
