package services

import (
	"context"
	"sort"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/proposal"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Leaderboard derives rankings from the store. It never writes.
type Leaderboard struct {
	scores    *repositories.Records[circle.GroupScore]
	circles   *repositories.Records[circle.Circle]
	proposals *repositories.Records[proposal.Proposal]
	clock     Clock
}

func NewLeaderboard(store repositories.WorkflowStore, clock Clock, log waLog.Logger) *Leaderboard {
	if log == nil {
		log = waLog.Noop
	}
	return &Leaderboard{
		scores:    repositories.NewRecords[circle.GroupScore](store, repositories.CollectionScores, log),
		circles:   repositories.NewRecords[circle.Circle](store, repositories.CollectionCircles, log),
		proposals: repositories.NewRecords[proposal.Proposal](store, repositories.CollectionProposals, log),
		clock:     clock,
	}
}

// TopGroups ranks circles by monthly score, highest first. Ties keep the
// order in which the scores were first recorded; circles that never scored
// follow with 0. n <= 0 returns every group.
func (l *Leaderboard) TopGroups(ctx context.Context, communityID string, n int) ([]community.GroupStanding, error) {
	scores, err := l.scores.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	circles, err := l.circles.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(circles))
	for _, c := range circles {
		names[c.Key] = c.Value.DisplayName
	}

	seen := make(map[string]bool, len(scores))
	out := make([]community.GroupStanding, 0, len(scores)+len(circles))
	for _, s := range scores {
		seen[s.Key] = true
		out = append(out, community.GroupStanding{GroupID: s.Key, DisplayName: names[s.Key], Score: s.Value.Score})
	}
	for _, c := range circles {
		if !seen[c.Key] {
			out = append(out, community.GroupStanding{GroupID: c.Key, DisplayName: c.Value.DisplayName})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// TopRaters counts rating submissions per participant across all proposals.
// Ties keep first-seen order.
func (l *Leaderboard) TopRaters(ctx context.Context, communityID string, n int) ([]community.RaterStanding, error) {
	items, err := l.proposals.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	index := map[string]int{}
	var out []community.RaterStanding
	for _, item := range items {
		raters := make([]string, 0, len(item.Value.Ratings))
		for id := range item.Value.Ratings {
			raters = append(raters, id)
		}
		sort.Strings(raters)
		for _, id := range raters {
			pos, ok := index[id]
			if !ok {
				pos = len(out)
				index[id] = pos
				out = append(out, community.RaterStanding{RaterID: id})
			}
			out[pos].Ratings++
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ratings > out[j].Ratings })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Calendar places validated proposals with a date on their day.
func (l *Leaderboard) Calendar(ctx context.Context, communityID string, year int, month time.Month) (community.Calendar, error) {
	cal := community.Calendar{CommunityID: communityID, Year: year, Month: month, Days: map[string][]community.CalendarEntry{}}
	items, err := l.proposals.List(ctx, communityID)
	if err != nil {
		return cal, err
	}
	for _, item := range items {
		p := item.Value
		if p.Status != proposal.StatusValidated {
			continue
		}
		d, ok := p.Date()
		if !ok || d.Year() != year || d.Month() != month {
			continue
		}
		day := d.Format(proposal.DateLayout)
		cal.Days[day] = append(cal.Days[day], community.CalendarEntry{
			ProposalID: p.ID,
			Title:      p.Title,
			Category:   p.Category,
			GroupID:    p.ProposerGroupID,
		})
	}
	return cal, nil
}

// Snapshot is the published leaderboard view.
func (l *Leaderboard) Snapshot(ctx context.Context, communityID string, n int) (community.Leaderboard, error) {
	groups, err := l.TopGroups(ctx, communityID, n)
	if err != nil {
		return community.Leaderboard{}, err
	}
	raters, err := l.TopRaters(ctx, communityID, n)
	if err != nil {
		return community.Leaderboard{}, err
	}
	return community.Leaderboard{
		CommunityID: communityID,
		GeneratedAt: l.clock.now(),
		Groups:      groups,
		Raters:      raters,
	}, nil
}
