package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/platform/metrics"
	"github.com/faeln1/go-whatsapp-council/pkg/keylock"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/sync/errgroup"
)

type Cycle string

const (
	CycleWeeklyOpen   Cycle = "weekly_open"
	CycleWeeklyClose  Cycle = "weekly_close"
	CycleMonthlyReset Cycle = "monthly_reset"
	CycleRefresh      Cycle = "refresh"
)

// WeeklyAt is a weekday and hour in the schedule's location.
type WeeklyAt struct {
	Weekday time.Weekday
	Hour    int
}

// MonthlyAt is a day of month and hour. Days past the end of a short month
// fall on its last day.
type MonthlyAt struct {
	Day  int
	Hour int
}

type Schedule struct {
	Location            *time.Location
	WeeklyOpen          WeeklyAt
	WeeklyClose         WeeklyAt
	MonthlyReset        MonthlyAt
	RefreshEvery        time.Duration
	CalendarEnabled     bool
	AnnounceLeaderboard bool
}

// DefaultSchedule opens ballots on Wednesday 18h, closes them on Friday 20h,
// resets scores on the 1st at noon and refreshes every six hours.
func DefaultSchedule() Schedule {
	return Schedule{
		Location:     time.UTC,
		WeeklyOpen:   WeeklyAt{Weekday: time.Wednesday, Hour: 18},
		WeeklyClose:  WeeklyAt{Weekday: time.Friday, Hour: 20},
		MonthlyReset: MonthlyAt{Day: 1, Hour: 12},
		RefreshEvery: 6 * time.Hour,
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeeklyAt reads "<weekday> <hour>", e.g. "wednesday 18".
func ParseWeeklyAt(raw string) (WeeklyAt, error) {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) != 2 {
		return WeeklyAt{}, fmt.Errorf("weekly schedule %q: expected \"<weekday> <hour>\"", raw)
	}
	wd, ok := weekdays[fields[0]]
	if !ok {
		return WeeklyAt{}, fmt.Errorf("weekly schedule %q: unknown weekday", raw)
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return WeeklyAt{}, fmt.Errorf("weekly schedule %q: hour must be 0-23", raw)
	}
	return WeeklyAt{Weekday: wd, Hour: hour}, nil
}

// ParseMonthlyAt reads "<day> <hour>", e.g. "1 12".
func ParseMonthlyAt(raw string) (MonthlyAt, error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return MonthlyAt{}, fmt.Errorf("monthly schedule %q: expected \"<day> <hour>\"", raw)
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil || day < 1 || day > 31 {
		return MonthlyAt{}, fmt.Errorf("monthly schedule %q: day must be 1-31", raw)
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return MonthlyAt{}, fmt.Errorf("monthly schedule %q: hour must be 0-23", raw)
	}
	return MonthlyAt{Day: day, Hour: hour}, nil
}

// occurrence is one cycle's firing window containing a given instant.
type occurrence struct {
	cycle    Cycle
	boundary string
	at       time.Time
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func isoWeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}

func (w WeeklyAt) in(weekStart time.Time) time.Time {
	offset := (int(w.Weekday) + 6) % 7
	y, m, d := weekStart.Date()
	return time.Date(y, m, d+offset, w.Hour, 0, 0, 0, weekStart.Location())
}

func weekBoundary(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// occurrences lists the cycles whose window contains now, in chronological
// order of their scheduled instant.
func (s Schedule) occurrences(now time.Time) []occurrence {
	local := now.In(s.location())
	start := isoWeekStart(local)
	week := weekBoundary(local)

	y, m, _ := local.Date()
	day := s.MonthlyReset.Day
	if last := daysIn(y, m, local.Location()); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}

	out := []occurrence{
		{cycle: CycleWeeklyOpen, boundary: week, at: s.WeeklyOpen.in(start)},
		{cycle: CycleWeeklyClose, boundary: week, at: s.WeeklyClose.in(start)},
		{cycle: CycleMonthlyReset, boundary: fmt.Sprintf("%04d-%02d", y, int(m)), at: time.Date(y, m, day, s.MonthlyReset.Hour, 0, 0, 0, local.Location())},
	}
	if s.RefreshEvery >= time.Second {
		bucket := now.Unix() / int64(s.RefreshEvery/time.Second)
		out = append(out, occurrence{
			cycle:    CycleRefresh,
			boundary: "R" + strconv.FormatInt(bucket, 10),
			at:       time.Unix(bucket*int64(s.RefreshEvery/time.Second), 0).In(local.Location()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// Checkpoint is the last boundary a cycle fired for in one community.
type Checkpoint struct {
	Cycle    Cycle     `json:"cycle"`
	Boundary string    `json:"boundary"`
	FiredAt  time.Time `json:"firedAt"`
}

type CycleStatus string

const (
	CycleFired   CycleStatus = "fired"
	CycleSkipped CycleStatus = "skipped"
	CycleBusy    CycleStatus = "busy"
	CycleFailed  CycleStatus = "failed"
)

// CycleRun reports what a tick did with one cycle of one community.
type CycleRun struct {
	CommunityID string      `json:"communityId"`
	Cycle       Cycle       `json:"cycle"`
	Boundary    string      `json:"boundary"`
	Status      CycleStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
}

// CycleRunner executes one cycle for one community.
type CycleRunner interface {
	RunCycle(ctx context.Context, cycle Cycle, communityID string, now time.Time) error
}

type SchedulerConfig struct {
	Schedule     Schedule
	PollInterval time.Duration
	Concurrency  int
	// Communities are always ticked, even before they have stored records.
	Communities []string
	Clock       Clock
}

// Scheduler fires each cycle at most once per boundary and community. The
// checkpoint is written only after a cycle succeeds, so a failed cycle is
// retried on the next poll inside the same boundary.
type Scheduler struct {
	cfg         SchedulerConfig
	runner      CycleRunner
	store       repositories.WorkflowStore
	checkpoints *repositories.Records[Checkpoint]
	locks       *keylock.Locker
	log         waLog.Logger
}

func NewScheduler(store repositories.WorkflowStore, runner CycleRunner, cfg SchedulerConfig, log waLog.Logger) *Scheduler {
	if log == nil {
		log = waLog.Noop
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		cfg:         cfg,
		runner:      runner,
		store:       store,
		checkpoints: repositories.NewRecords[Checkpoint](store, repositories.CollectionCheckpoints, log),
		locks:       keylock.New(),
		log:         log,
	}
}

// Run polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	s.log.Infof("scheduler started (poll every %s)", s.cfg.PollInterval)
	for {
		s.poll(ctx)
		select {
		case <-ctx.Done():
			s.log.Infof("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	unlock, ok := s.locks.TryLock("tick")
	if !ok {
		s.log.Debugf("previous tick still running; poll skipped")
		return
	}
	defer unlock()
	if _, err := s.Tick(ctx, s.cfg.Clock.now()); err != nil {
		s.log.Errorf("scheduler tick failed: %v", err)
	}
}

// Tick runs every due cycle of every known community. Communities run in
// parallel and never share a lock; one community's failure is reported in
// its CycleRun entries only.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]CycleRun, error) {
	communities, err := s.communities(ctx)
	if err != nil {
		return nil, err
	}
	results := make([][]CycleRun, len(communities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, communityID := range communities {
		g.Go(func() error {
			results[i] = s.tickCommunity(gctx, communityID, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []CycleRun
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (s *Scheduler) communities(ctx context.Context) ([]string, error) {
	stored, err := s.store.Communities(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{s.cfg.Communities, stored} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Scheduler) tickCommunity(ctx context.Context, communityID string, now time.Time) []CycleRun {
	var runs []CycleRun
	// After downtime spanning both weekly instants, the ballot opened here is
	// closed in the same tick without votes. The week's boundary has passed,
	// so holding it open would only push it into the next week's window.
	for _, occ := range s.cfg.Schedule.occurrences(now) {
		if now.Before(occ.at) {
			continue
		}
		runs = append(runs, s.fire(ctx, communityID, occ, now))
	}
	return runs
}

func (s *Scheduler) fire(ctx context.Context, communityID string, occ occurrence, now time.Time) CycleRun {
	run := CycleRun{CommunityID: communityID, Cycle: occ.cycle, Boundary: occ.boundary}

	unlock, ok := s.locks.TryLock(communityID + "/" + string(occ.cycle))
	if !ok {
		run.Status = CycleBusy
		return run
	}
	defer unlock()

	cp, err := s.checkpoints.Get(ctx, communityID, string(occ.cycle))
	if err == nil && cp.Boundary == occ.boundary {
		run.Status = CycleSkipped
		return run
	}
	if err != nil && !repositories.IsMissing(err) {
		run.Status, run.Error = CycleFailed, err.Error()
		return run
	}

	started := time.Now()
	err = s.runner.RunCycle(ctx, occ.cycle, communityID, now)
	metrics.CycleDuration.WithLabelValues(string(occ.cycle)).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.CycleRuns.WithLabelValues(string(occ.cycle), string(CycleFailed)).Inc()
		s.log.Errorf("cycle %s failed for %s (%s): %v", occ.cycle, communityID, occ.boundary, err)
		run.Status, run.Error = CycleFailed, err.Error()
		return run
	}
	if err := s.checkpoints.Put(ctx, communityID, string(occ.cycle), &Checkpoint{Cycle: occ.cycle, Boundary: occ.boundary, FiredAt: now.UTC()}); err != nil {
		s.log.Errorf("failed to checkpoint %s for %s: %v", occ.cycle, communityID, err)
		run.Status, run.Error = CycleFailed, err.Error()
		return run
	}
	metrics.CycleRuns.WithLabelValues(string(occ.cycle), string(CycleFired)).Inc()
	s.log.Infof("cycle %s fired for %s (%s)", occ.cycle, communityID, occ.boundary)
	run.Status = CycleFired
	return run
}

// Checkpoints returns the stored checkpoints of a community.
func (s *Scheduler) Checkpoints(ctx context.Context, communityID string) ([]Checkpoint, error) {
	items, err := s.checkpoints.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint, 0, len(items))
	for _, item := range items {
		out = append(out, *item.Value)
	}
	return out, nil
}
