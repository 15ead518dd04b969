package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/proposal"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func TestTopGroupsOrdering(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a")
	seedScore(t, h, "c1", "g2", 2)
	seedScore(t, h, "c1", "g1", 2)
	seedScore(t, h, "c1", "g3", 5)
	quiet, _ := h.circles.Create(ctx, "c1", circle.CreateInput{DisplayName: "Quiet", Color: "#000000", FounderID: "a"})

	groups, err := h.leaderboard.TopGroups(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("top groups: %v", err)
	}
	var order []string
	for _, g := range groups {
		order = append(order, g.GroupID)
	}
	want := []string{"g3", "g2", "g1", quiet.ID}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v got %v", want, order)
	}
	if groups[3].DisplayName != "Quiet" || groups[3].Score != 0 {
		t.Fatalf("unscored circle should appear with 0, got %+v", groups[3])
	}
	if top, _ := h.leaderboard.TopGroups(ctx, "c1", 2); len(top) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(top))
	}
	if empty, _ := h.leaderboard.TopGroups(ctx, "other", 5); len(empty) != 0 {
		t.Fatalf("unknown community has no standings")
	}
}

func TestTopRatersAndCalendar(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a")
	records := repositories.NewRecords[proposal.Proposal](h.store, repositories.CollectionProposals, waLog.Noop)
	put := func(p proposal.Proposal) {
		if err := records.Put(ctx, "c1", p.ID, &p); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	put(proposal.Proposal{ID: "p1", Title: "Picnic", ProposerGroupID: "g1", Status: proposal.StatusValidated, ScheduledDate: "2026-10-24", Ratings: map[string]int{"zed": 4, "amy": 5}})
	put(proposal.Proposal{ID: "p2", Title: "Hike", ProposerGroupID: "g2", Status: proposal.StatusActive, ScheduledDate: "2026-10-25", Ratings: map[string]int{"zed": 2}})
	put(proposal.Proposal{ID: "p3", Title: "Movie", ProposerGroupID: "g1", Status: proposal.StatusValidated, ScheduledDate: "2026-11-02"})

	raters, err := h.leaderboard.TopRaters(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("top raters: %v", err)
	}
	if len(raters) != 2 || raters[0].RaterID != "zed" || raters[0].Ratings != 2 || raters[1].RaterID != "amy" {
		t.Fatalf("unexpected raters %+v", raters)
	}

	cal, err := h.leaderboard.Calendar(ctx, "c1", 2026, time.October)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	entries := cal.Days["2026-10-24"]
	if len(cal.Days) != 1 || len(entries) != 1 || entries[0].ProposalID != "p1" {
		t.Fatalf("only validated october events belong in the calendar, got %+v", cal.Days)
	}
}

type capturePublisher struct {
	boards    []community.Leaderboard
	calendars []community.Calendar
}

func (p *capturePublisher) PublishLeaderboard(_ context.Context, board community.Leaderboard) error {
	p.boards = append(p.boards, board)
	return nil
}

func (p *capturePublisher) PublishCalendar(_ context.Context, cal community.Calendar) error {
	p.calendars = append(p.calendars, cal)
	return nil
}

func TestRefreshPublishesSnapshots(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a")
	seedScore(t, h, "c1", "g1", 3)
	pub := &capturePublisher{}
	schedule := DefaultSchedule()
	schedule.CalendarEnabled = true
	schedule.AnnounceLeaderboard = true
	cycles := NewCycles(CyclesDeps{
		Store:       h.store,
		Governance:  h.governance,
		Leaderboard: h.leaderboard,
		Directory:   h.dir,
		Announcer:   h.announcer,
		Publishers:  []SnapshotPublisher{pub},
		Schedule:    schedule,
	}, waLog.Noop)

	if err := cycles.Refresh(ctx, "c1", h.clock.Now()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(pub.boards) != 1 || pub.boards[0].Groups[0].Score != 3 {
		t.Fatalf("expected one leaderboard snapshot, got %+v", pub.boards)
	}
	if len(pub.calendars) != 1 || pub.calendars[0].Month != time.October {
		t.Fatalf("expected october calendar, got %+v", pub.calendars)
	}
	texts := h.announcer.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "1. g1: 3") {
		t.Fatalf("expected leaderboard text, got %q", texts)
	}
}
