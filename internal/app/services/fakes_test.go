package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type appliedEffect struct {
	community   string
	effect      decision.Effect
	participant string
}

type fakeDirectory struct {
	mu          sync.Mutex
	holders     map[decision.Capability]map[string]bool
	automated   map[string]bool
	effects     []appliedEffect
	effectErr   error
	effectCalls int
}

func newFakeDirectory(members ...string) *fakeDirectory {
	d := &fakeDirectory{
		holders:   map[decision.Capability]map[string]bool{},
		automated: map[string]bool{},
	}
	for _, m := range members {
		d.grant(decision.CapabilityMember, m)
	}
	return d
}

func (d *fakeDirectory) grant(c decision.Capability, ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.holders[c] == nil {
		d.holders[c] = map[string]bool{}
	}
	for _, id := range ids {
		d.holders[c][id] = true
	}
}

func (d *fakeDirectory) revoke(c decision.Capability, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.holders[c], id)
}

func (d *fakeDirectory) EligibleVoters(_ context.Context, _ string, c decision.Capability) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for id := range d.holders[c] {
		if !d.automated[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *fakeDirectory) HasCapability(_ context.Context, _ string, id string, c decision.Capability) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holders[c][id], nil
}

func (d *fakeDirectory) IsAutomated(_ context.Context, _ string, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.automated[id], nil
}

func (d *fakeDirectory) ApplyEffect(_ context.Context, communityID string, effect decision.Effect, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.effectCalls++
	if d.effectErr != nil {
		return d.effectErr
	}
	d.effects = append(d.effects, appliedEffect{community: communityID, effect: effect, participant: id})
	switch effect {
	case decision.EffectGrantWinner:
		if d.holders[decision.CapabilityMonthlyWinner] == nil {
			d.holders[decision.CapabilityMonthlyWinner] = map[string]bool{}
		}
		d.holders[decision.CapabilityMonthlyWinner][id] = true
	case decision.EffectRevokeWinner:
		delete(d.holders[decision.CapabilityMonthlyWinner], id)
	}
	return nil
}

func (d *fakeDirectory) applied() []appliedEffect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]appliedEffect(nil), d.effects...)
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	opened   []community.DecisionOpened
	messages []string
	seq      int
}

func (a *fakeAnnouncer) AnnounceDecision(_ context.Context, opened community.DecisionOpened) ([]community.VoteAnchor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opened = append(a.opened, opened)
	var anchors []community.VoteAnchor
	for _, opt := range opened.Options {
		a.seq++
		anchors = append(anchors, community.VoteAnchor{
			MessageID:   fmt.Sprintf("msg-%d", a.seq),
			CommunityID: opened.CommunityID,
			DecisionKey: opened.DecisionKey,
			Choice:      opt.Choice,
		})
	}
	return anchors, nil
}

func (a *fakeAnnouncer) Announce(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, text)
	return nil
}

func (a *fakeAnnouncer) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

type recordingListener struct {
	mu     sync.Mutex
	events []community.DecisionEvent
}

func (l *recordingListener) DecisionFinalized(_ context.Context, evt community.DecisionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *recordingListener) all() []community.DecisionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]community.DecisionEvent(nil), l.events...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// harness wires the services over an in-memory store.
type harness struct {
	store       repositories.WorkflowStore
	dir         *fakeDirectory
	announcer   *fakeAnnouncer
	listener    *recordingListener
	clock       *fakeClock
	engine      *QuorumEngine
	governance  *GovernanceService
	circles     *CircleService
	leaderboard *Leaderboard
	cycles      *Cycles
}

func newHarness(members ...string) *harness {
	return newHarnessOn(repositories.NewInMemoryWorkflowStore(), members...)
}

func newHarnessOn(store repositories.WorkflowStore, members ...string) *harness {
	h := &harness{
		store:     store,
		dir:       newFakeDirectory(members...),
		announcer: &fakeAnnouncer{},
		listener:  &recordingListener{},
		clock:     &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)},
	}
	clock := Clock(h.clock.Now)
	cfg := EngineConfig{TiePolicy: decision.TieApprove, EffectMaxRetries: 2, EffectInitialInterval: time.Millisecond, Clock: clock}
	h.engine = NewQuorumEngine(h.store, h.dir, cfg, waLog.Noop, h.listener)
	h.governance = NewGovernanceService(GovernanceDeps{
		Store:     h.store,
		Engine:    h.engine,
		Directory: h.dir,
		Announcer: h.announcer,
		Ledger:    repositories.NewStoreDecisionLog(h.store, waLog.Noop),
		Clock:     clock,
	}, waLog.Noop)
	h.engine.AddListener(LedgerListener{Ledger: repositories.NewStoreDecisionLog(h.store, waLog.Noop)})
	h.engine.AddListener(h.governance)
	h.circles = NewCircleService(h.store, h.dir, clock, waLog.Noop)
	h.leaderboard = NewLeaderboard(h.store, clock, waLog.Noop)
	h.cycles = NewCycles(CyclesDeps{
		Store:       h.store,
		Governance:  h.governance,
		Leaderboard: h.leaderboard,
		Directory:   h.dir,
		Announcer:   h.announcer,
		Listeners:   []DecisionListener{h.listener},
		Schedule:    DefaultSchedule(),
		Engine:      cfg,
	}, waLog.Noop)
	return h
}
