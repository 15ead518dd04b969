package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

func TestRecommendationApprovedOnThirdYes(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1", "m2", "m3", "m4", "m5")

	rec, err := h.governance.Recommend(ctx, "c1", "m1", "cand")
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	key := decision.NewKey("c1", decision.KindRecommendation, rec.ID)

	for i, voter := range []string{"m1", "m2"} {
		res, err := h.engine.RecordVote(ctx, key, voter, decision.ChoiceYes)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if res.Outcome != decision.OutcomePending || res.Threshold != 3 {
			t.Fatalf("vote %d: expected pending with threshold 3, got %+v", i, res)
		}
	}
	res, err := h.engine.RecordVote(ctx, key, "m3", decision.ChoiceYes)
	if err != nil {
		t.Fatalf("third vote: %v", err)
	}
	if res.Outcome != decision.OutcomeApproved || res.WinningChoice != decision.ChoiceYes {
		t.Fatalf("expected approval on third yes, got %+v", res)
	}

	late, err := h.engine.RecordVote(ctx, key, "m4", decision.ChoiceNo)
	if err != nil {
		t.Fatalf("late vote: %v", err)
	}
	if late.Outcome != decision.OutcomeApproved {
		t.Fatalf("late vote must not change outcome, got %+v", late)
	}
	tally, _ := h.engine.Tally(ctx, key)
	if _, voted := tally.Votes["m4"]; voted {
		t.Fatalf("votes after finalization must not be stored")
	}

	effects := h.dir.applied()
	if len(effects) != 1 || effects[0].effect != decision.EffectGrantMember || effects[0].participant != "cand" {
		t.Fatalf("expected one grant for cand, got %+v", effects)
	}
	if events := h.listener.all(); len(events) != 1 || events[0].Subject != "cand" {
		t.Fatalf("expected one finalized event, got %+v", events)
	}
	if recs, _ := h.governance.ListRecommendations(ctx, "c1"); len(recs) != 0 {
		t.Fatalf("finalized recommendation should be deleted, got %+v", recs)
	}
	history, _ := h.governance.DecisionHistory(ctx, "c1", 10)
	if len(history) != 1 || history[0].Outcome != decision.OutcomeApproved {
		t.Fatalf("expected ledger entry, got %+v", history)
	}
}

func TestConcurrentVotesFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	members := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		members = append(members, fmt.Sprintf("m%02d", i))
	}
	h := newHarness(members...)
	rec, err := h.governance.Recommend(ctx, "c1", "m00", "cand")
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	key := decision.NewKey("c1", decision.KindRecommendation, rec.ID)

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(voter string) {
			defer wg.Done()
			if _, err := h.engine.RecordVote(ctx, key, voter, decision.ChoiceYes); err != nil {
				t.Errorf("vote %s: %v", voter, err)
			}
		}(m)
	}
	wg.Wait()

	if n := len(h.dir.applied()); n != 1 {
		t.Fatalf("expected exactly one effect, got %d", n)
	}
	if n := len(h.listener.all()); n != 1 {
		t.Fatalf("expected exactly one notification, got %d", n)
	}
}

func TestThresholdFollowsLiveEligibility(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1", "m2", "m3", "m4")
	req, err := h.governance.RequestExclusion(ctx, "c1", "m1", "m4", "spam")
	if err != nil {
		t.Fatalf("request exclusion: %v", err)
	}
	key := decision.NewKey("c1", decision.KindExclusion, req.ID)

	// 4 eligible: threshold 3.
	if res, _ := h.engine.RecordVote(ctx, key, "m1", decision.ChoiceYes); res.Outcome != decision.OutcomePending {
		t.Fatalf("expected pending, got %+v", res)
	}
	if res, _ := h.engine.RecordVote(ctx, key, "m2", decision.ChoiceYes); res.Outcome != decision.OutcomePending {
		t.Fatalf("expected pending, got %+v", res)
	}
	// 3 eligible: threshold 2, already met.
	h.dir.revoke(decision.CapabilityMember, "m3")
	res, err := h.engine.Evaluate(ctx, key)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Outcome != decision.OutcomeApproved || res.Eligible != 3 {
		t.Fatalf("expected approval after population shrank, got %+v", res)
	}
	effects := h.dir.applied()
	if len(effects) != 1 || effects[0].effect != decision.EffectRemoveParticipant || effects[0].participant != "m4" {
		t.Fatalf("expected removal of m4, got %+v", effects)
	}
}

func TestVotesOfIneligibleVotersAreIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1", "m2", "m3")
	rec, _ := h.governance.Recommend(ctx, "c1", "m1", "cand")
	key := decision.NewKey("c1", decision.KindRecommendation, rec.ID)

	for _, outsider := range []string{"x1", "x2", "x3"} {
		res, err := h.engine.RecordVote(ctx, key, outsider, decision.ChoiceYes)
		if err != nil {
			t.Fatalf("vote: %v", err)
		}
		if res.Outcome != decision.OutcomePending || res.Yes != 0 {
			t.Fatalf("outsider votes must not count, got %+v", res)
		}
	}
}

func TestPermissionFailureStillFinalizes(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1", "m2", "m3")
	h.dir.effectErr = fmt.Errorf("%w: bot is not admin", domainerrors.ErrPermission)
	rec, _ := h.governance.Recommend(ctx, "c1", "m1", "cand")
	key := decision.NewKey("c1", decision.KindRecommendation, rec.ID)

	_, _ = h.engine.RecordVote(ctx, key, "m1", decision.ChoiceYes)
	res, err := h.engine.RecordVote(ctx, key, "m2", decision.ChoiceYes)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if res.Outcome != decision.OutcomeApproved {
		t.Fatalf("expected approval, got %+v", res)
	}
	if h.dir.effectCalls != 1 {
		t.Fatalf("permission errors must not be retried, got %d calls", h.dir.effectCalls)
	}
	events := h.listener.all()
	if len(events) != 1 || events[0].EffectError == "" {
		t.Fatalf("expected finalized event carrying the effect error, got %+v", events)
	}
	if again, _ := h.engine.Evaluate(ctx, key); again.Outcome != decision.OutcomeApproved || h.dir.effectCalls != 1 {
		t.Fatalf("re-evaluation must not retry the effect")
	}
}

func TestTransientEffectFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1")
	h.dir.effectErr = errors.New("connection reset")
	rec, _ := h.governance.Recommend(ctx, "c1", "m1", "cand")
	key := decision.NewKey("c1", decision.KindRecommendation, rec.ID)
	if _, err := h.engine.RecordVote(ctx, key, "m1", decision.ChoiceYes); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if h.dir.effectCalls != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", h.dir.effectCalls)
	}
}

func TestRetractAndRejection(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1", "m2", "m3")
	rec, _ := h.governance.Recommend(ctx, "c1", "m1", "cand")
	key := decision.NewKey("c1", decision.KindRecommendation, rec.ID)

	_, _ = h.engine.RecordVote(ctx, key, "m1", decision.ChoiceNo)
	if res, _ := h.engine.RetractVote(ctx, key, "m1"); res.No != 0 {
		t.Fatalf("retract should drop the vote, got %+v", res)
	}
	_, _ = h.engine.RecordVote(ctx, key, "m1", decision.ChoiceNo)
	res, _ := h.engine.RecordVote(ctx, key, "m2", decision.ChoiceNo)
	if res.Outcome != decision.OutcomeRejected {
		t.Fatalf("expected rejection, got %+v", res)
	}
	if len(h.dir.applied()) != 0 {
		t.Fatalf("rejection applies no effect")
	}
	if _, err := h.governance.Recommend(ctx, "c1", "m1", "cand"); err != nil {
		t.Fatalf("a rejected candidate can be recommended again: %v", err)
	}
}

func TestRecordVoteValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1")
	key := decision.NewKey("c1", decision.KindRecommendation, "missing")
	if _, err := h.engine.RecordVote(ctx, key, "m1", "maybe"); !errors.Is(err, domainerrors.ErrInvalidChoice) {
		t.Fatalf("expected invalid choice, got %v", err)
	}
	if _, err := h.engine.RecordVote(ctx, key, "m1", decision.ChoiceYes); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found for unknown decision, got %v", err)
	}
	ballotKey := decision.NewKey("c1", decision.KindBallot, "b1")
	if err := h.engine.Open(ctx, ballotKey); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("ballots are not opened by the engine, got %v", err)
	}
}

func TestWithdrawIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness("m1", "m2", "m3")
	rec, _ := h.governance.Recommend(ctx, "c1", "m1", "cand")
	key := decision.NewKey("c1", decision.KindRecommendation, rec.ID)

	if err := h.engine.Withdraw(ctx, key, "candidate left"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	res, err := h.engine.RecordVote(ctx, key, "m1", decision.ChoiceYes)
	if err != nil {
		t.Fatalf("vote after withdraw: %v", err)
	}
	if res.Outcome != decision.OutcomeRejected || len(h.dir.applied()) != 0 {
		t.Fatalf("withdrawn decision must stay rejected, got %+v", res)
	}
	if pending, _ := h.engine.Pending(ctx, "c1"); len(pending) != 0 {
		t.Fatalf("expected no pending decisions, got %v", pending)
	}
	if recs, _ := h.governance.ListRecommendations(ctx, "c1"); len(recs) != 0 {
		t.Fatalf("withdrawn recommendation should be gone")
	}
}
