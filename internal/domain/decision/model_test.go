package decision

import (
	"errors"
	"testing"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

func TestThreshold(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 10: 6}
	for n, want := range cases {
		if got := Threshold(n); got != want {
			t.Fatalf("Threshold(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestEvaluateMajority(t *testing.T) {
	eligible := []string{"a", "b", "c", "d", "e"}
	votes := map[string]Choice{"a": ChoiceYes, "b": ChoiceYes}

	res := Evaluate(votes, eligible, TieApprove)
	if res.Outcome != OutcomePending {
		t.Fatalf("two of five should stay pending, got %s", res.Outcome)
	}

	votes["c"] = ChoiceYes
	res = Evaluate(votes, eligible, TieApprove)
	if res.Outcome != OutcomeApproved || res.WinningChoice != ChoiceYes {
		t.Fatalf("three of five should approve, got %+v", res)
	}
	if res.Threshold != 3 || res.Yes != 3 {
		t.Fatalf("unexpected counts %+v", res)
	}
}

func TestEvaluateIgnoresIneligibleVoters(t *testing.T) {
	votes := map[string]Choice{"a": ChoiceNo, "gone": ChoiceNo, "left": ChoiceNo}
	res := Evaluate(votes, []string{"a", "b", "c"}, TieApprove)
	if res.No != 1 || res.Outcome != OutcomePending {
		t.Fatalf("expected only eligible vote counted, got %+v", res)
	}
}

func TestEvaluateEmptyElectorateNeverSettles(t *testing.T) {
	res := Evaluate(map[string]Choice{"x": ChoiceYes}, nil, TieApprove)
	if res.Outcome != OutcomePending || res.Threshold != 1 {
		t.Fatalf("expected pending with threshold 1, got %+v", res)
	}
}

func TestTallyCastRejectsCandidateChoice(t *testing.T) {
	tally := NewTally(NewKey("c1", KindRecommendation, "r1"), time.Now())
	if err := tally.Cast("v", Choice("01HX")); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := tally.Cast("v", ChoiceYes); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := tally.Cast("v", ChoiceNo); err != nil {
		t.Fatalf("recast: %v", err)
	}
	if tally.Votes["v"] != ChoiceNo {
		t.Fatalf("expected latest choice to win")
	}
	if !tally.Retract("v") || tally.Retract("v") {
		t.Fatalf("retract should succeed once")
	}
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("c1", "exclusion:01ABC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key.Kind != KindExclusion || key.ID != "01ABC" || key.CommunityID != "c1" {
		t.Fatalf("unexpected key %+v", key)
	}
	if key.String() != "exclusion:01ABC" {
		t.Fatalf("round trip mismatch %s", key.String())
	}
	if _, err := ParseKey("c1", "bogus:1"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
