package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/ballot"
	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"github.com/faeln1/go-whatsapp-council/internal/domain/membership"
	"github.com/faeln1/go-whatsapp-council/internal/domain/proposal"
	"github.com/faeln1/go-whatsapp-council/pkg/ids"
	"github.com/faeln1/go-whatsapp-council/pkg/keylock"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// GovernanceService is the entry point for proposing actions and for the
// inbound events of the chat platform.
type GovernanceService struct {
	engine    *QuorumEngine
	directory Directory
	announcer Announcer
	journal   EventJournal
	ledger    repositories.DecisionLog

	recommendations *repositories.Records[membership.Recommendation]
	exclusions      *repositories.Records[membership.ExclusionRequest]
	proposals       *repositories.Records[proposal.Proposal]
	ballots         *repositories.Records[ballot.Ballot]
	circles         *repositories.Records[circle.Circle]
	anchors         *repositories.Records[community.VoteAnchor]

	locks *keylock.Locker
	clock Clock
	log   waLog.Logger
}

type GovernanceDeps struct {
	Store     repositories.WorkflowStore
	Engine    *QuorumEngine
	Directory Directory
	Announcer Announcer
	Journal   EventJournal
	Ledger    repositories.DecisionLog
	Clock     Clock
}

func NewGovernanceService(deps GovernanceDeps, log waLog.Logger) *GovernanceService {
	if log == nil {
		log = waLog.Noop
	}
	announcer := deps.Announcer
	if announcer == nil {
		announcer = NoopAnnouncer
	}
	store := deps.Store
	return &GovernanceService{
		engine:          deps.Engine,
		directory:       deps.Directory,
		announcer:       announcer,
		journal:         deps.Journal,
		ledger:          deps.Ledger,
		recommendations: repositories.NewRecords[membership.Recommendation](store, repositories.CollectionRecommendations, log),
		exclusions:      repositories.NewRecords[membership.ExclusionRequest](store, repositories.CollectionExclusions, log),
		proposals:       repositories.NewRecords[proposal.Proposal](store, repositories.CollectionProposals, log),
		ballots:         repositories.NewRecords[ballot.Ballot](store, repositories.CollectionBallots, log),
		circles:         repositories.NewRecords[circle.Circle](store, repositories.CollectionCircles, log),
		anchors:         repositories.NewRecords[community.VoteAnchor](store, repositories.CollectionAnchors, log),
		locks:           keylock.New(),
		clock:           deps.Clock,
		log:             log,
	}
}

// Recommend opens a membership vote for candidateID.
func (s *GovernanceService) Recommend(ctx context.Context, communityID, recommenderID, candidateID string) (*membership.Recommendation, error) {
	now := s.clock.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return nil, err
	}
	rec, err := membership.NewRecommendation(id, communityID, candidateID, recommenderID, now)
	if err != nil {
		return nil, err
	}
	if err := s.requireCapability(ctx, communityID, rec.RecommenderID, decision.CapabilityMember); err != nil {
		return nil, err
	}
	automated, err := s.directory.IsAutomated(ctx, communityID, rec.CandidateID)
	if err != nil {
		return nil, err
	}
	if automated {
		return nil, domainerrors.ErrAutomatedTarget
	}
	member, err := s.directory.HasCapability(ctx, communityID, rec.CandidateID, decision.CapabilityMember)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, domainerrors.ErrAlreadyMember
	}

	unlock := s.locks.Lock("recommendation/" + communityID + "/" + rec.CandidateID)
	defer unlock()

	pending, err := s.recommendations.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	for _, item := range pending {
		if item.Value.CandidateID == rec.CandidateID && item.Value.Status == membership.RecommendationPending {
			return nil, domainerrors.ErrDuplicateRecommendation
		}
	}
	if err := s.recommendations.Put(ctx, communityID, rec.ID, rec); err != nil {
		return nil, err
	}
	key := decision.NewKey(communityID, decision.KindRecommendation, rec.ID)
	if err := s.engine.Open(ctx, key); err != nil {
		return nil, err
	}
	s.log.Infof("recommendation %s opened in %s for %s by %s", rec.ID, communityID, rec.CandidateID, rec.RecommenderID)
	s.announceOpened(ctx, community.DecisionOpened{
		CommunityID: communityID,
		DecisionKey: key.String(),
		Kind:        key.Kind,
		Title:       "Membership recommendation",
		Body:        fmt.Sprintf("%s recommends %s. React ✅ to admit or ❌ to decline.", rec.RecommenderID, rec.CandidateID),
		Options:     binaryOptions(),
	})
	return rec, nil
}

// RequestExclusion opens a vote to remove targetID from the community.
func (s *GovernanceService) RequestExclusion(ctx context.Context, communityID, initiatorID, targetID, reason string) (*membership.ExclusionRequest, error) {
	now := s.clock.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return nil, err
	}
	req, err := membership.NewExclusionRequest(id, communityID, targetID, initiatorID, reason, now)
	if err != nil {
		return nil, err
	}
	if err := s.requireCapability(ctx, communityID, req.InitiatorID, decision.CapabilityMember); err != nil {
		return nil, err
	}
	automated, err := s.directory.IsAutomated(ctx, communityID, req.TargetID)
	if err != nil {
		return nil, err
	}
	if automated {
		return nil, domainerrors.ErrAutomatedTarget
	}
	admin, err := s.directory.HasCapability(ctx, communityID, req.TargetID, decision.CapabilityAdmin)
	if err != nil {
		return nil, err
	}
	if admin {
		return nil, domainerrors.ErrProtectedTarget
	}
	member, err := s.directory.HasCapability(ctx, communityID, req.TargetID, decision.CapabilityMember)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, domainerrors.ErrUnknownParticipant
	}

	unlock := s.locks.Lock("exclusion/" + communityID + "/" + req.TargetID)
	defer unlock()

	pending, err := s.exclusions.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	for _, item := range pending {
		if item.Value.TargetID == req.TargetID && item.Value.Status == membership.ExclusionPending {
			return nil, domainerrors.ErrDuplicateExclusion
		}
	}
	if err := s.exclusions.Put(ctx, communityID, req.ID, req); err != nil {
		return nil, err
	}
	key := decision.NewKey(communityID, decision.KindExclusion, req.ID)
	if err := s.engine.Open(ctx, key); err != nil {
		return nil, err
	}
	s.log.Infof("exclusion %s opened in %s against %s", req.ID, communityID, req.TargetID)
	body := fmt.Sprintf("%s asks to remove %s.", req.InitiatorID, req.TargetID)
	if req.Reason != "" {
		body += " Reason: " + req.Reason
	}
	s.announceOpened(ctx, community.DecisionOpened{
		CommunityID: communityID,
		DecisionKey: key.String(),
		Kind:        key.Kind,
		Title:       "Exclusion request",
		Body:        body,
		Options:     binaryOptions(),
	})
	return req, nil
}

// ProposeEvent files a proposal on behalf of the proposer's circle. The
// circle votes on it before it can be rated.
func (s *GovernanceService) ProposeEvent(ctx context.Context, communityID string, in proposal.CreateInput) (*proposal.Proposal, error) {
	now := s.clock.now()
	scheduled, err := proposal.ParseDate(in.Date, now)
	if err != nil {
		return nil, err
	}
	proposer := strings.TrimSpace(in.ProposerID)
	if proposer == "" || strings.TrimSpace(in.Title) == "" {
		return nil, domainerrors.ErrEmptyField
	}
	owner, err := s.circleOf(ctx, communityID, proposer)
	if err != nil {
		return nil, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return nil, err
	}
	p, err := proposal.New(id, communityID, owner.ID, in, scheduled, now)
	if err != nil {
		return nil, err
	}
	if err := s.proposals.Put(ctx, communityID, p.ID, p); err != nil {
		return nil, err
	}
	key := decision.NewKey(communityID, decision.KindProposal, p.ID)
	if err := s.engine.Open(ctx, key); err != nil {
		return nil, err
	}
	s.log.Infof("proposal %s filed in %s by circle %s", p.ID, communityID, owner.ID)
	body := fmt.Sprintf("%s (%s) proposed by %s.", p.Title, p.Category, owner.DisplayName)
	if p.ScheduledDate != "" {
		body += " Date: " + p.ScheduledDate
	}
	s.announceOpened(ctx, community.DecisionOpened{
		CommunityID: communityID,
		DecisionKey: key.String(),
		Kind:        key.Kind,
		Title:       "Event proposal",
		Body:        body,
		Options:     binaryOptions(),
	})
	return p, nil
}

// Rate stores raterID's score on an active proposal.
func (s *GovernanceService) Rate(ctx context.Context, communityID, proposalID, raterID string, rating int) (*proposal.Proposal, error) {
	if rating < proposal.MinRating || rating > proposal.MaxRating {
		return nil, domainerrors.ErrInvalidRating
	}
	if strings.TrimSpace(raterID) == "" {
		return nil, domainerrors.ErrEmptyField
	}
	var out proposal.Proposal
	found, err := s.proposals.Update(ctx, communityID, proposalID, func(p *proposal.Proposal) error {
		if err := p.Rate(raterID, rating); err != nil {
			return err
		}
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: proposal %s", domainerrors.ErrNotFound, proposalID)
	}
	return &out, nil
}

// CastBallotVote records voterID's pick on the open weekly ballot.
func (s *GovernanceService) CastBallotVote(ctx context.Context, communityID, voterID, proposalID string) (*ballot.Ballot, error) {
	if err := s.requireCapability(ctx, communityID, voterID, decision.CapabilityMember); err != nil {
		return nil, err
	}
	return s.updateOpenBallot(ctx, communityID, func(b *ballot.Ballot) error {
		return b.Cast(voterID, proposalID)
	})
}

func (s *GovernanceService) RetractBallotVote(ctx context.Context, communityID, voterID string) (*ballot.Ballot, error) {
	return s.updateOpenBallot(ctx, communityID, func(b *ballot.Ballot) error {
		if !b.Retract(voterID) {
			return repositories.ErrSkipUpdate
		}
		return nil
	})
}

func (s *GovernanceService) updateOpenBallot(ctx context.Context, communityID string, fn func(b *ballot.Ballot) error) (*ballot.Ballot, error) {
	current, err := s.CurrentBallot(ctx, communityID)
	if err != nil {
		return nil, err
	}
	var out ballot.Ballot
	found, err := s.ballots.Update(ctx, communityID, current.ID, func(b *ballot.Ballot) error {
		if err := fn(b); err != nil {
			if errors.Is(err, repositories.ErrSkipUpdate) {
				out = *b
			}
			return err
		}
		out = *b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainerrors.ErrNoOpenBallot
	}
	return &out, nil
}

// CurrentBallot returns the open ballot of the community.
func (s *GovernanceService) CurrentBallot(ctx context.Context, communityID string) (*ballot.Ballot, error) {
	return openBallot(ctx, s.ballots, communityID)
}

func openBallot(ctx context.Context, ballots *repositories.Records[ballot.Ballot], communityID string) (*ballot.Ballot, error) {
	items, err := ballots.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Value.Status == ballot.StatusOpen {
			return items[i].Value, nil
		}
	}
	return nil, domainerrors.ErrNoOpenBallot
}

// OnVoteSignal routes an inbound vote. An empty choice retracts.
func (s *GovernanceService) OnVoteSignal(ctx context.Context, sig community.VoteSignal) error {
	if s.journal != nil {
		if err := s.journal.Write(sig.CommunityID, sig); err != nil {
			s.log.Warnf("failed to journal vote signal: %v", err)
		}
	}
	key, err := decision.ParseKey(sig.CommunityID, sig.DecisionKey)
	if err != nil {
		return err
	}
	if key.Kind == decision.KindBallot {
		if sig.Choice == "" {
			_, err = s.RetractBallotVote(ctx, sig.CommunityID, sig.VoterID)
		} else {
			_, err = s.CastBallotVote(ctx, sig.CommunityID, sig.VoterID, string(sig.Choice))
		}
		return err
	}
	if sig.Choice == "" {
		_, err = s.engine.RetractVote(ctx, key, sig.VoterID)
	} else {
		_, err = s.engine.RecordVote(ctx, key, sig.VoterID, sig.Choice)
	}
	return err
}

// ResolveAnchor maps an announced message back to its decision.
func (s *GovernanceService) ResolveAnchor(ctx context.Context, communityID, messageID string) (community.VoteAnchor, bool) {
	anchor, err := s.anchors.Get(ctx, communityID, messageID)
	if err != nil {
		return community.VoteAnchor{}, false
	}
	return *anchor, true
}

// SaveAnchors stores the anchors returned by an announcement.
func (s *GovernanceService) SaveAnchors(ctx context.Context, anchors []community.VoteAnchor) {
	for i := range anchors {
		a := anchors[i]
		if a.MessageID == "" {
			continue
		}
		if err := s.anchors.Put(ctx, a.CommunityID, a.MessageID, &a); err != nil {
			s.log.Warnf("failed to save vote anchor %s: %v", a.MessageID, err)
		}
	}
}

// DropAnchors forgets every anchor of decisionKey.
func (s *GovernanceService) DropAnchors(ctx context.Context, communityID, decisionKey string) error {
	return s.anchors.UpdateAll(ctx, communityID, func(items []repositories.Keyed[community.VoteAnchor]) ([]repositories.Keyed[community.VoteAnchor], error) {
		kept := items[:0]
		for _, item := range items {
			if item.Value.DecisionKey != decisionKey {
				kept = append(kept, item)
			}
		}
		return kept, nil
	})
}

// OnParticipantLeft withdraws the participant's pending recommendations,
// removes them from their circle and re-evaluates open decisions against the
// shrunken population.
func (s *GovernanceService) OnParticipantLeft(ctx context.Context, communityID, participantID string) error {
	if s.journal != nil {
		if err := s.journal.Write(communityID, map[string]string{"event": "participant_left", "participant": participantID}); err != nil {
			s.log.Warnf("failed to journal participant leave: %v", err)
		}
	}
	var errs []error

	recs, err := s.recommendations.List(ctx, communityID)
	if err != nil {
		return err
	}
	for _, item := range recs {
		if item.Value.CandidateID != participantID || item.Value.Status != membership.RecommendationPending {
			continue
		}
		key := decision.NewKey(communityID, decision.KindRecommendation, item.Key)
		if err := s.engine.Withdraw(ctx, key, "candidate left"); err != nil {
			errs = append(errs, err)
		}
		// Records without a tally are removed directly.
		if err := s.recommendations.Delete(ctx, communityID, item.Key); err != nil {
			errs = append(errs, err)
		}
	}

	if err := leaveCircles(ctx, s.circles, communityID, participantID); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.RetractBallotVote(ctx, communityID, participantID); err != nil && !errors.Is(err, domainerrors.ErrNoOpenBallot) {
		errs = append(errs, err)
	}

	pending, err := s.engine.Pending(ctx, communityID)
	if err != nil {
		errs = append(errs, err)
	}
	for _, key := range pending {
		if _, err := s.engine.Evaluate(ctx, key); err != nil {
			s.log.Warnf("re-evaluation of %s/%s failed: %v", communityID, key, err)
		}
	}
	s.log.Infof("participant %s left %s", participantID, communityID)
	return errors.Join(errs...)
}

// leaveCircles removes participantID from every circle and purges circles
// left empty.
func leaveCircles(ctx context.Context, circles *repositories.Records[circle.Circle], communityID, participantID string) error {
	return circles.UpdateAll(ctx, communityID, func(items []repositories.Keyed[circle.Circle]) ([]repositories.Keyed[circle.Circle], error) {
		kept := items[:0]
		for _, item := range items {
			item.Value.Remove(participantID)
			if item.Value.Empty() {
				continue
			}
			kept = append(kept, item)
		}
		return kept, nil
	})
}

// DecisionHistory lists finalized decisions, newest first.
func (s *GovernanceService) DecisionHistory(ctx context.Context, communityID string, limit int) ([]community.DecisionEvent, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.List(ctx, communityID, limit)
}

func (s *GovernanceService) ListRecommendations(ctx context.Context, communityID string) ([]membership.Recommendation, error) {
	items, err := s.recommendations.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	out := make([]membership.Recommendation, 0, len(items))
	for _, item := range items {
		out = append(out, *item.Value)
	}
	return out, nil
}

func (s *GovernanceService) ListExclusions(ctx context.Context, communityID string) ([]membership.ExclusionRequest, error) {
	items, err := s.exclusions.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	out := make([]membership.ExclusionRequest, 0, len(items))
	for _, item := range items {
		out = append(out, *item.Value)
	}
	return out, nil
}

// ListProposals returns proposals in creation order, optionally filtered by status.
func (s *GovernanceService) ListProposals(ctx context.Context, communityID string, status proposal.Status) ([]proposal.Proposal, error) {
	items, err := s.proposals.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	out := make([]proposal.Proposal, 0, len(items))
	for _, item := range items {
		if status != "" && item.Value.Status != status {
			continue
		}
		out = append(out, *item.Value)
	}
	return out, nil
}

func (s *GovernanceService) GetProposal(ctx context.Context, communityID, proposalID string) (*proposal.Proposal, error) {
	p, err := s.proposals.Get(ctx, communityID, proposalID)
	if err != nil {
		if repositories.IsMissing(err) {
			return nil, fmt.Errorf("%w: proposal %s", domainerrors.ErrNotFound, proposalID)
		}
		return nil, err
	}
	return p, nil
}

// Decision returns the tally of a binary decision.
func (s *GovernanceService) Decision(ctx context.Context, communityID, rawKey string) (*decision.Tally, error) {
	key, err := decision.ParseKey(communityID, rawKey)
	if err != nil {
		return nil, err
	}
	return s.engine.Tally(ctx, key)
}

// DecisionFinalized announces the outcome and retires the decision's anchors.
func (s *GovernanceService) DecisionFinalized(ctx context.Context, evt community.DecisionEvent) error {
	if err := s.DropAnchors(ctx, evt.CommunityID, evt.DecisionKey); err != nil {
		s.log.Warnf("failed to drop anchors of %s: %v", evt.DecisionKey, err)
	}
	text := outcomeText(evt)
	if text == "" {
		return nil
	}
	return s.announcer.Announce(ctx, evt.CommunityID, text)
}

func outcomeText(evt community.DecisionEvent) string {
	subject := evt.Subject
	if subject == "" {
		subject = evt.RecordID
	}
	approved := evt.Outcome == decision.OutcomeApproved
	var text string
	switch evt.Kind {
	case decision.KindRecommendation:
		if approved {
			text = fmt.Sprintf("%s was admitted as a member.", subject)
		} else {
			text = fmt.Sprintf("The recommendation of %s was declined.", subject)
		}
	case decision.KindExclusion:
		if approved {
			text = fmt.Sprintf("%s was removed from the community.", subject)
		} else {
			text = fmt.Sprintf("The exclusion request against %s was rejected.", subject)
		}
	case decision.KindProposal:
		if approved {
			text = fmt.Sprintf("Proposal %q is now open for ratings.", subject)
		} else {
			text = fmt.Sprintf("Proposal %q was rejected by its circle.", subject)
		}
	default:
		return ""
	}
	if evt.EffectError != "" {
		text += " The change could not be applied automatically: " + evt.EffectError
	}
	return text
}

func (s *GovernanceService) announceOpened(ctx context.Context, opened community.DecisionOpened) {
	anchors, err := s.announcer.AnnounceDecision(ctx, opened)
	if err != nil {
		s.log.Warnf("failed to announce %s in %s: %v", opened.DecisionKey, opened.CommunityID, err)
		return
	}
	s.SaveAnchors(ctx, anchors)
}

func (s *GovernanceService) requireCapability(ctx context.Context, communityID, participantID string, capability decision.Capability) error {
	if s.directory == nil {
		return fmt.Errorf("%w: no directory configured", domainerrors.ErrNotFound)
	}
	ok, err := s.directory.HasCapability(ctx, communityID, participantID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return domainerrors.ErrNotEligible
	}
	return nil
}

func (s *GovernanceService) circleOf(ctx context.Context, communityID, participantID string) (*circle.Circle, error) {
	items, err := s.circles.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Value.Has(participantID) {
			return item.Value, nil
		}
	}
	return nil, domainerrors.ErrNotInCircle
}

func binaryOptions() []community.DecisionOption {
	return []community.DecisionOption{
		{Choice: decision.ChoiceYes, Label: "✅"},
		{Choice: decision.ChoiceNo, Label: "❌"},
	}
}
