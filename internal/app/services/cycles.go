package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/ballot"
	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"github.com/faeln1/go-whatsapp-council/internal/domain/proposal"
	"github.com/faeln1/go-whatsapp-council/pkg/ids"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Cycles implements the scheduled community workflows.
type Cycles struct {
	proposals *repositories.Records[proposal.Proposal]
	ballots   *repositories.Records[ballot.Ballot]
	scores    *repositories.Records[circle.GroupScore]
	circles   *repositories.Records[circle.Circle]

	governance  *GovernanceService
	leaderboard *Leaderboard
	directory   Directory
	effects     *effectRunner
	announcer   Announcer
	publishers  []SnapshotPublisher
	listeners   []DecisionListener
	schedule    Schedule
	log         waLog.Logger
}

type CyclesDeps struct {
	Store       repositories.WorkflowStore
	Governance  *GovernanceService
	Leaderboard *Leaderboard
	Directory   Directory
	Announcer   Announcer
	Publishers  []SnapshotPublisher
	Listeners   []DecisionListener
	Schedule    Schedule
	Engine      EngineConfig
}

func NewCycles(deps CyclesDeps, log waLog.Logger) *Cycles {
	if log == nil {
		log = waLog.Noop
	}
	announcer := deps.Announcer
	if announcer == nil {
		announcer = NoopAnnouncer
	}
	store := deps.Store
	return &Cycles{
		proposals:   repositories.NewRecords[proposal.Proposal](store, repositories.CollectionProposals, log),
		ballots:     repositories.NewRecords[ballot.Ballot](store, repositories.CollectionBallots, log),
		scores:      repositories.NewRecords[circle.GroupScore](store, repositories.CollectionScores, log),
		circles:     repositories.NewRecords[circle.Circle](store, repositories.CollectionCircles, log),
		governance:  deps.Governance,
		leaderboard: deps.Leaderboard,
		directory:   deps.Directory,
		effects:     newEffectRunner(deps.Directory, deps.Engine.EffectMaxRetries, deps.Engine.EffectInitialInterval, log),
		announcer:   announcer,
		publishers:  deps.Publishers,
		listeners:   deps.Listeners,
		schedule:    deps.Schedule,
		log:         log,
	}
}

func (c *Cycles) RunCycle(ctx context.Context, cycle Cycle, communityID string, now time.Time) error {
	switch cycle {
	case CycleWeeklyOpen:
		return c.OpenWeeklyBallot(ctx, communityID, now)
	case CycleWeeklyClose:
		return c.CloseWeeklyBallot(ctx, communityID, now)
	case CycleMonthlyReset:
		return c.MonthlyReset(ctx, communityID, now)
	case CycleRefresh:
		return c.Refresh(ctx, communityID, now)
	}
	return fmt.Errorf("%w: unknown cycle %q", domainerrors.ErrInvalidInput, cycle)
}

// OpenWeeklyBallot expires past-dated proposals and opens a ballot over the
// best rated active ones. No ballot opens while another is open.
func (c *Cycles) OpenWeeklyBallot(ctx context.Context, communityID string, now time.Time) error {
	if open, err := openBallot(ctx, c.ballots, communityID); err == nil {
		c.log.Infof("ballot %s still open in %s; not opening another", open.ID, communityID)
		return nil
	} else if !errors.Is(err, domainerrors.ErrNoOpenBallot) {
		return err
	}

	if err := c.expireProposals(ctx, communityID, now); err != nil {
		return err
	}

	items, err := c.proposals.List(ctx, communityID)
	if err != nil {
		return err
	}
	titles := map[string]string{}
	var candidates []ballot.Candidate
	for _, item := range items {
		if item.Value.Status != proposal.StatusActive {
			continue
		}
		candidates = append(candidates, ballot.Candidate{ID: item.Value.ID, AverageRating: item.Value.AverageRating})
		titles[item.Value.ID] = item.Value.Title
	}
	if len(candidates) == 0 {
		c.log.Infof("no eligible proposals in %s; ballot not opened", communityID)
		c.announce(ctx, communityID, "No eligible proposals this week, so no ballot was opened.")
		return nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}
	b := ballot.New(id, communityID, ballot.Rank(candidates, ballot.MaxCandidates), now)
	if err := c.ballots.Put(ctx, communityID, b.ID, b); err != nil {
		return err
	}
	c.log.Infof("ballot %s opened in %s with %d candidate(s)", b.ID, communityID, len(b.Candidates))

	options := make([]community.DecisionOption, 0, len(b.Candidates))
	for _, cand := range b.Candidates {
		options = append(options, community.DecisionOption{Choice: decision.Choice(cand), Label: titles[cand]})
	}
	opened := community.DecisionOpened{
		CommunityID: communityID,
		DecisionKey: decision.NewKey(communityID, decision.KindBallot, b.ID).String(),
		Kind:        decision.KindBallot,
		Title:       "Weekly ballot",
		Body:        "Pick this week's event. One vote per member; the last vote counts.",
		Options:     options,
	}
	anchors, err := c.announcer.AnnounceDecision(ctx, opened)
	if err != nil {
		c.log.Warnf("failed to announce ballot %s: %v", b.ID, err)
	} else if c.governance != nil {
		c.governance.SaveAnchors(ctx, anchors)
	}
	return nil
}

// expireProposals moves active proposals whose date already passed to Expired.
func (c *Cycles) expireProposals(ctx context.Context, communityID string, now time.Time) error {
	local := now.In(c.schedule.location())
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	items, err := c.proposals.List(ctx, communityID)
	if err != nil {
		return err
	}
	for _, item := range items {
		d, ok := item.Value.Date()
		if item.Value.Status != proposal.StatusActive || !ok || !d.Before(today) {
			continue
		}
		if _, err := c.proposals.Update(ctx, communityID, item.Key, func(p *proposal.Proposal) error {
			if p.Status != proposal.StatusActive {
				return repositories.ErrSkipUpdate
			}
			return p.Transition(proposal.StatusExpired)
		}); err != nil {
			return err
		}
		c.log.Infof("proposal %s in %s expired (date %s)", item.Key, communityID, item.Value.ScheduledDate)
	}
	return nil
}

// CloseWeeklyBallot closes the latest ballot, validates the winner and
// credits its circle. A ballot left closed by an interrupted run is settled
// again; the score remembers the credited ballot so the point lands once.
func (c *Cycles) CloseWeeklyBallot(ctx context.Context, communityID string, now time.Time) error {
	items, err := c.ballots.List(ctx, communityID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		c.log.Debugf("no ballot to close in %s", communityID)
		return nil
	}
	latest := items[len(items)-1]

	var closed ballot.Ballot
	if _, err := c.ballots.Update(ctx, communityID, latest.Key, func(b *ballot.Ballot) error {
		b.Close(now)
		closed = *b
		return nil
	}); err != nil {
		return err
	}
	key := decision.NewKey(communityID, decision.KindBallot, closed.ID)
	evt := community.DecisionEvent{
		Timestamp:   now.UTC(),
		CommunityID: communityID,
		DecisionKey: key.String(),
		Kind:        decision.KindBallot,
		RecordID:    closed.ID,
		Outcome:     decision.OutcomeRejected,
	}

	if closed.WinnerID == "" {
		c.log.Infof("ballot %s in %s closed without votes", closed.ID, communityID)
		c.announce(ctx, communityID, "The weekly ballot closed without votes. No event was selected.")
	} else {
		var winner proposal.Proposal
		if _, err := c.proposals.Update(ctx, communityID, closed.WinnerID, func(p *proposal.Proposal) error {
			winner = *p
			if p.Status == proposal.StatusValidated {
				return repositories.ErrSkipUpdate
			}
			if err := p.Transition(proposal.StatusValidated); err != nil {
				c.log.Warnf("ballot winner %s cannot be validated: %v", p.ID, err)
				return repositories.ErrSkipUpdate
			}
			winner = *p
			return nil
		}); err != nil {
			return err
		}
		if winner.Status == proposal.StatusValidated && winner.ProposerGroupID != "" {
			if err := c.scores.Upsert(ctx, communityID, winner.ProposerGroupID, func(cur *circle.GroupScore) (*circle.GroupScore, error) {
				if cur == nil {
					cur = &circle.GroupScore{GroupID: winner.ProposerGroupID}
				}
				if !cur.Credit(closed.ID) {
					return nil, repositories.ErrSkipUpdate
				}
				return cur, nil
			}); err != nil {
				return err
			}
		}
		_, votes, _ := closed.Winner()
		evt.Outcome = decision.OutcomeApproved
		evt.WinningChoice = decision.Choice(closed.WinnerID)
		evt.Subject = winner.Title
		c.log.Infof("ballot %s in %s won by %s with %d vote(s)", closed.ID, communityID, closed.WinnerID, votes)
		text := fmt.Sprintf("This week's winner is %q with %d vote(s).", winner.Title, votes)
		if winner.ScheduledDate != "" {
			text += " See you on " + winner.ScheduledDate + "."
		}
		c.announce(ctx, communityID, text)
	}

	for _, l := range c.listeners {
		if err := l.DecisionFinalized(ctx, evt); err != nil {
			c.log.Warnf("decision listener failed for ballot %s: %v", closed.ID, err)
		}
	}
	if c.governance != nil {
		if err := c.governance.DropAnchors(ctx, communityID, key.String()); err != nil {
			c.log.Warnf("failed to drop ballot anchors: %v", err)
		}
	}
	return c.ballots.Delete(ctx, communityID, closed.ID)
}

// MonthlyReset crowns the best scoring circle and zeroes every score.
func (c *Cycles) MonthlyReset(ctx context.Context, communityID string, now time.Time) error {
	groups, err := c.leaderboard.TopGroups(ctx, communityID, 0)
	if err != nil {
		return err
	}
	var top *community.GroupStanding
	for i := range groups {
		if groups[i].Score > 0 {
			top = &groups[i]
			break
		}
	}

	if top == nil {
		c.log.Infof("monthly reset in %s: no circle scored", communityID)
		c.announce(ctx, communityID, "No circle scored this month.")
	} else {
		name := top.DisplayName
		if name == "" {
			name = top.GroupID
		}
		c.log.Infof("monthly winner in %s: %s with %d point(s)", communityID, top.GroupID, top.Score)
		c.announce(ctx, communityID, fmt.Sprintf("Circle of the month: %s with %d point(s)!", name, top.Score))
		c.rotateWinners(ctx, communityID, top.GroupID)
	}

	return c.scores.UpdateAll(ctx, communityID, func(items []repositories.Keyed[circle.GroupScore]) ([]repositories.Keyed[circle.GroupScore], error) {
		for _, item := range items {
			item.Value.Score = 0
		}
		return items, nil
	})
}

// rotateWinners revokes the winner capability from previous holders and
// grants it to the winning circle. Effect failures are logged only.
func (c *Cycles) rotateWinners(ctx context.Context, communityID, groupID string) {
	if c.directory == nil {
		return
	}
	var members []string
	if g, err := c.circles.Get(ctx, communityID, groupID); err == nil {
		members = g.MemberIDs
	} else {
		c.log.Warnf("winning circle %s no longer exists in %s", groupID, communityID)
	}
	next := make(map[string]bool, len(members))
	for _, m := range members {
		next[m] = true
	}

	holders, err := c.directory.EligibleVoters(ctx, communityID, decision.CapabilityMonthlyWinner)
	if err != nil {
		c.log.Warnf("failed to list monthly winners of %s: %v", communityID, err)
	}
	current := make(map[string]bool, len(holders))
	for _, h := range holders {
		current[h] = true
		if !next[h] {
			_ = c.effects.apply(ctx, communityID, decision.EffectRevokeWinner, h)
		}
	}
	for _, m := range members {
		if !current[m] {
			_ = c.effects.apply(ctx, communityID, decision.EffectGrantWinner, m)
		}
	}
}

// Refresh republishes the leaderboard and, when enabled, the calendar.
func (c *Cycles) Refresh(ctx context.Context, communityID string, now time.Time) error {
	board, err := c.leaderboard.Snapshot(ctx, communityID, 10)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range c.publishers {
		if err := p.PublishLeaderboard(ctx, board); err != nil {
			errs = append(errs, err)
		}
	}
	if c.schedule.CalendarEnabled {
		local := now.In(c.schedule.location())
		cal, err := c.leaderboard.Calendar(ctx, communityID, local.Year(), local.Month())
		if err != nil {
			return err
		}
		for _, p := range c.publishers {
			if err := p.PublishCalendar(ctx, cal); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if c.schedule.AnnounceLeaderboard && len(board.Groups) > 0 {
		c.announce(ctx, communityID, LeaderboardText(board))
	}
	return errors.Join(errs...)
}

// LeaderboardText renders a plain chat summary of the board.
func LeaderboardText(board community.Leaderboard) string {
	var sb strings.Builder
	sb.WriteString("Leaderboard\n")
	for i, g := range board.Groups {
		name := g.DisplayName
		if name == "" {
			name = g.GroupID
		}
		fmt.Fprintf(&sb, "%d. %s: %d\n", i+1, name, g.Score)
	}
	if len(board.Raters) > 0 {
		sb.WriteString("\nMost active raters\n")
		for i, r := range board.Raters {
			fmt.Fprintf(&sb, "%d. %s: %d\n", i+1, r.RaterID, r.Ratings)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Cycles) announce(ctx context.Context, communityID, text string) {
	if err := c.announcer.Announce(ctx, communityID, text); err != nil {
		c.log.Warnf("failed to announce in %s: %v", communityID, err)
	}
}
