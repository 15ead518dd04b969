package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"github.com/faeln1/go-whatsapp-council/internal/domain/membership"
	"github.com/faeln1/go-whatsapp-council/internal/domain/proposal"
	"github.com/faeln1/go-whatsapp-council/internal/platform/metrics"
	"github.com/faeln1/go-whatsapp-council/pkg/keylock"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type EngineConfig struct {
	TiePolicy             decision.TiePolicy
	EffectMaxRetries      uint64
	EffectInitialInterval time.Duration
	Clock                 Clock
}

// QuorumEngine turns votes on binary decisions into a terminal outcome.
// Every status transition of one decision runs under that decision's lock,
// so finalization and its side effect happen once.
type QuorumEngine struct {
	tallies         *repositories.Records[decision.Tally]
	recommendations *repositories.Records[membership.Recommendation]
	exclusions      *repositories.Records[membership.ExclusionRequest]
	proposals       *repositories.Records[proposal.Proposal]
	circles         *repositories.Records[circle.Circle]

	directory Directory
	effects   *effectRunner
	listeners []DecisionListener
	locks     *keylock.Locker
	cfg       EngineConfig
	log       waLog.Logger
}

func NewQuorumEngine(store repositories.WorkflowStore, directory Directory, cfg EngineConfig, log waLog.Logger, listeners ...DecisionListener) *QuorumEngine {
	if log == nil {
		log = waLog.Noop
	}
	if cfg.TiePolicy == "" {
		cfg.TiePolicy = decision.TieApprove
	}
	return &QuorumEngine{
		tallies:         repositories.NewRecords[decision.Tally](store, repositories.CollectionTallies, log),
		recommendations: repositories.NewRecords[membership.Recommendation](store, repositories.CollectionRecommendations, log),
		exclusions:      repositories.NewRecords[membership.ExclusionRequest](store, repositories.CollectionExclusions, log),
		proposals:       repositories.NewRecords[proposal.Proposal](store, repositories.CollectionProposals, log),
		circles:         repositories.NewRecords[circle.Circle](store, repositories.CollectionCircles, log),
		directory:       directory,
		effects:         newEffectRunner(directory, cfg.EffectMaxRetries, cfg.EffectInitialInterval, log),
		listeners:       listeners,
		locks:           keylock.New(),
		cfg:             cfg,
		log:             log,
	}
}

// AddListener registers a listener for finalized decisions. Not safe for use
// once votes are flowing.
func (e *QuorumEngine) AddListener(l DecisionListener) {
	if l != nil {
		e.listeners = append(e.listeners, l)
	}
}

func decisionLockKey(key decision.Key) string {
	return key.CommunityID + "/" + key.String()
}

// Open creates an empty tally for key. Opening an existing decision is a no-op.
func (e *QuorumEngine) Open(ctx context.Context, key decision.Key) error {
	if !key.Kind.Binary() {
		return fmt.Errorf("%w: %s is not a yes/no decision", domainerrors.ErrInvalidInput, key.Kind)
	}
	return e.tallies.Upsert(ctx, key.CommunityID, key.String(), func(current *decision.Tally) (*decision.Tally, error) {
		if current != nil {
			return nil, repositories.ErrSkipUpdate
		}
		return decision.NewTally(key, e.cfg.Clock.now()), nil
	})
}

// RecordVote stores voter's choice, replacing an earlier one, and evaluates
// the decision. Votes on a finalized decision return its stored outcome.
func (e *QuorumEngine) RecordVote(ctx context.Context, key decision.Key, voterID string, choice decision.Choice) (decision.Result, error) {
	if !key.Kind.Binary() || !choice.Binary() {
		return decision.Result{}, domainerrors.ErrInvalidChoice
	}
	if voterID == "" {
		return decision.Result{}, domainerrors.ErrEmptyField
	}

	unlock := e.locks.Lock(decisionLockKey(key))
	defer unlock()

	tally, err := e.loadTally(ctx, key)
	if err != nil {
		return decision.Result{}, err
	}
	if tally.Terminal() {
		e.log.Debugf("vote from %s on finalized %s ignored", voterID, key)
		return storedResult(key, tally), nil
	}
	if _, err := e.tallies.Update(ctx, key.CommunityID, key.String(), func(t *decision.Tally) error {
		return t.Cast(voterID, choice)
	}); err != nil {
		return decision.Result{}, err
	}
	metrics.VotesRecorded.WithLabelValues(string(key.Kind)).Inc()
	e.log.Debugf("%s voted %s on %s/%s", voterID, choice, key.CommunityID, key)
	return e.evaluateLocked(ctx, key)
}

// RetractVote drops voter's choice on a pending decision.
func (e *QuorumEngine) RetractVote(ctx context.Context, key decision.Key, voterID string) (decision.Result, error) {
	unlock := e.locks.Lock(decisionLockKey(key))
	defer unlock()

	tally, err := e.loadTally(ctx, key)
	if err != nil {
		return decision.Result{}, err
	}
	if tally.Terminal() {
		return storedResult(key, tally), nil
	}
	if _, err := e.tallies.Update(ctx, key.CommunityID, key.String(), func(t *decision.Tally) error {
		if !t.Retract(voterID) {
			return repositories.ErrSkipUpdate
		}
		return nil
	}); err != nil {
		return decision.Result{}, err
	}
	return e.evaluateLocked(ctx, key)
}

// Evaluate re-checks the decision against the current eligible population.
func (e *QuorumEngine) Evaluate(ctx context.Context, key decision.Key) (decision.Result, error) {
	unlock := e.locks.Lock(decisionLockKey(key))
	defer unlock()
	return e.evaluateLocked(ctx, key)
}

// Withdraw finalizes a pending decision as rejected without any directory
// effect, e.g. when its subject left the community.
func (e *QuorumEngine) Withdraw(ctx context.Context, key decision.Key, reason string) error {
	unlock := e.locks.Lock(decisionLockKey(key))
	defer unlock()

	tally, err := e.loadTally(ctx, key)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if tally.Terminal() {
		return nil
	}
	if err := e.markTerminal(ctx, key, decision.OutcomeRejected); err != nil {
		return err
	}
	evt := community.DecisionEvent{
		Timestamp:   e.cfg.Clock.now(),
		CommunityID: key.CommunityID,
		DecisionKey: key.String(),
		Kind:        key.Kind,
		RecordID:    key.ID,
		Outcome:     decision.OutcomeRejected,
		Subject:     reason,
	}
	switch key.Kind {
	case decision.KindRecommendation:
		evt.Subject = e.closeRecommendation(ctx, key, false)
	case decision.KindExclusion:
		evt.Subject = e.closeExclusion(ctx, key, false)
	}
	e.log.Infof("withdrew %s/%s: %s", key.CommunityID, key, reason)
	e.notify(ctx, evt)
	return nil
}

// Pending lists the open binary decisions of a community.
func (e *QuorumEngine) Pending(ctx context.Context, communityID string) ([]decision.Key, error) {
	items, err := e.tallies.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	out := make([]decision.Key, 0, len(items))
	for _, item := range items {
		if item.Value.Terminal() {
			continue
		}
		key, err := decision.ParseKey(communityID, item.Key)
		if err != nil {
			e.log.Warnf("skipping tally with unreadable key %q: %v", item.Key, err)
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

// Tally returns the stored tally of key.
func (e *QuorumEngine) Tally(ctx context.Context, key decision.Key) (*decision.Tally, error) {
	return e.loadTally(ctx, key)
}

func (e *QuorumEngine) loadTally(ctx context.Context, key decision.Key) (*decision.Tally, error) {
	tally, err := e.tallies.Get(ctx, key.CommunityID, key.String())
	if err != nil {
		if repositories.IsMissing(err) {
			return nil, fmt.Errorf("%w: decision %s", domainerrors.ErrNotFound, key)
		}
		return nil, err
	}
	return tally, nil
}

func (e *QuorumEngine) evaluateLocked(ctx context.Context, key decision.Key) (decision.Result, error) {
	tally, err := e.loadTally(ctx, key)
	if err != nil {
		return decision.Result{}, err
	}
	if tally.Terminal() {
		return storedResult(key, tally), nil
	}

	eligible, err := e.eligibleVoters(ctx, key)
	if err != nil {
		return decision.Result{}, err
	}
	res := decision.Evaluate(tally.Votes, eligible, e.cfg.TiePolicy)
	res.Key = key
	if !res.Outcome.Terminal() {
		return res, nil
	}

	// The marker is persisted before any effect runs: a failed effect never
	// re-opens the decision.
	if err := e.markTerminal(ctx, key, res.Outcome); err != nil {
		return decision.Result{}, err
	}
	e.log.Infof("%s/%s finalized %s (yes=%d no=%d eligible=%d threshold=%d)",
		key.CommunityID, key, res.Outcome, res.Yes, res.No, res.Eligible, res.Threshold)

	evt := e.settle(ctx, key, res)
	metrics.DecisionsFinalized.WithLabelValues(string(key.Kind), string(res.Outcome)).Inc()
	e.notify(ctx, evt)
	return res, nil
}

func (e *QuorumEngine) markTerminal(ctx context.Context, key decision.Key, outcome decision.Outcome) error {
	now := e.cfg.Clock.now()
	_, err := e.tallies.Update(ctx, key.CommunityID, key.String(), func(t *decision.Tally) error {
		if t.Terminal() {
			return repositories.ErrSkipUpdate
		}
		t.Finalize(outcome, now)
		return nil
	})
	return err
}

func (e *QuorumEngine) eligibleVoters(ctx context.Context, key decision.Key) ([]string, error) {
	switch key.Kind {
	case decision.KindProposal:
		p, err := e.proposals.Get(ctx, key.CommunityID, key.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: proposal %s", domainerrors.ErrNotFound, key.ID)
		}
		c, err := e.circles.Get(ctx, key.CommunityID, p.ProposerGroupID)
		if err != nil {
			if repositories.IsMissing(err) {
				return nil, nil
			}
			return nil, err
		}
		return append([]string(nil), c.MemberIDs...), nil
	default:
		if e.directory == nil {
			return nil, fmt.Errorf("%w: no directory configured", domainerrors.ErrNotFound)
		}
		return e.directory.EligibleVoters(ctx, key.CommunityID, decision.CapabilityMember)
	}
}

// settle applies the entity transition and the directory effect of a
// freshly finalized decision.
func (e *QuorumEngine) settle(ctx context.Context, key decision.Key, res decision.Result) community.DecisionEvent {
	evt := community.DecisionEvent{
		Timestamp:     e.cfg.Clock.now(),
		CommunityID:   key.CommunityID,
		DecisionKey:   key.String(),
		Kind:          key.Kind,
		RecordID:      key.ID,
		Outcome:       res.Outcome,
		WinningChoice: res.WinningChoice,
	}
	approved := res.Outcome == decision.OutcomeApproved

	var effectErr error
	switch key.Kind {
	case decision.KindRecommendation:
		evt.Subject = e.closeRecommendation(ctx, key, approved)
		if approved && evt.Subject != "" {
			effectErr = e.effects.apply(ctx, key.CommunityID, decision.EffectGrantMember, evt.Subject)
		}
	case decision.KindExclusion:
		evt.Subject = e.closeExclusion(ctx, key, approved)
		if approved && evt.Subject != "" {
			effectErr = e.effects.apply(ctx, key.CommunityID, decision.EffectRemoveParticipant, evt.Subject)
		}
	case decision.KindProposal:
		var title string
		if _, err := e.proposals.Update(ctx, key.CommunityID, key.ID, func(p *proposal.Proposal) error {
			title = p.Title
			if approved {
				return p.Activate()
			}
			return p.Transition(proposal.StatusRejected)
		}); err != nil {
			e.log.Errorf("failed to settle proposal %s/%s: %v", key.CommunityID, key.ID, err)
		}
		evt.Subject = title
	}
	if effectErr != nil {
		evt.EffectError = effectErr.Error()
	}
	return evt
}

func (e *QuorumEngine) closeRecommendation(ctx context.Context, key decision.Key, approved bool) string {
	rec, err := e.recommendations.Get(ctx, key.CommunityID, key.ID)
	if err != nil {
		e.log.Warnf("recommendation %s/%s not found while settling: %v", key.CommunityID, key.ID, err)
		return ""
	}
	next := membership.RecommendationWithdrawn
	if approved {
		next = membership.RecommendationApproved
	}
	if err := rec.Transition(next); err != nil {
		e.log.Warnf("recommendation %s/%s: %v", key.CommunityID, key.ID, err)
	}
	if err := e.recommendations.Delete(ctx, key.CommunityID, key.ID); err != nil {
		e.log.Errorf("failed to delete recommendation %s/%s: %v", key.CommunityID, key.ID, err)
	}
	return rec.CandidateID
}

func (e *QuorumEngine) closeExclusion(ctx context.Context, key decision.Key, approved bool) string {
	req, err := e.exclusions.Get(ctx, key.CommunityID, key.ID)
	if err != nil {
		e.log.Warnf("exclusion %s/%s not found while settling: %v", key.CommunityID, key.ID, err)
		return ""
	}
	next := membership.ExclusionRejected
	if approved {
		next = membership.ExclusionApproved
	}
	if err := req.Transition(next); err != nil {
		e.log.Warnf("exclusion %s/%s: %v", key.CommunityID, key.ID, err)
	}
	if err := e.exclusions.Delete(ctx, key.CommunityID, key.ID); err != nil {
		e.log.Errorf("failed to delete exclusion %s/%s: %v", key.CommunityID, key.ID, err)
	}
	return req.TargetID
}

func (e *QuorumEngine) notify(ctx context.Context, evt community.DecisionEvent) {
	for _, l := range e.listeners {
		if err := l.DecisionFinalized(ctx, evt); err != nil {
			e.log.Warnf("decision listener failed for %s/%s: %v", evt.CommunityID, evt.DecisionKey, err)
		}
	}
}

func storedResult(key decision.Key, t *decision.Tally) decision.Result {
	res := decision.Result{Key: key, Outcome: t.Outcome, WinningChoice: t.WinningChoice}
	for _, c := range t.Votes {
		switch c {
		case decision.ChoiceYes:
			res.Yes++
		case decision.ChoiceNo:
			res.No++
		}
	}
	return res
}

// effectRunner applies directory effects with bounded retries. Permission,
// lookup and input failures are not retried.
type effectRunner struct {
	directory  Directory
	maxRetries uint64
	initial    time.Duration
	log        waLog.Logger
}

func newEffectRunner(directory Directory, maxRetries uint64, initial time.Duration, log waLog.Logger) *effectRunner {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	return &effectRunner{directory: directory, maxRetries: maxRetries, initial: initial, log: log}
}

func (r *effectRunner) apply(ctx context.Context, communityID string, effect decision.Effect, participantID string) error {
	if r.directory == nil {
		return fmt.Errorf("%w: no directory configured", domainerrors.ErrNotFound)
	}
	op := func() error {
		err := r.directory.ApplyEffect(ctx, communityID, effect, participantID)
		if err == nil {
			return nil
		}
		if errors.Is(err, domainerrors.ErrPermission) || domainerrors.IsClientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxElapsedTime = time.Minute
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
	if err != nil {
		metrics.EffectFailures.WithLabelValues(string(effect)).Inc()
		r.log.Warnf("effect %s on %s in %s failed: %v", effect, participantID, communityID, err)
		return err
	}
	r.log.Infof("effect %s applied to %s in %s", effect, participantID, communityID)
	return nil
}
