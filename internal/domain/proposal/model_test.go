package proposal

import (
	"errors"
	"testing"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

func activeProposal(t *testing.T) *Proposal {
	t.Helper()
	p, err := New("p1", "c1", "g1", CreateInput{Title: "Picnic", ProposerID: "u1"}, nil, time.Now())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return p
}

func TestRatingOverwriteAndAverage(t *testing.T) {
	p := activeProposal(t)
	for _, step := range []struct {
		rater  string
		rating int
	}{{"a", 5}, {"b", 4}, {"a", 2}} {
		if err := p.Rate(step.rater, step.rating); err != nil {
			t.Fatalf("rate %s: %v", step.rater, err)
		}
	}
	if len(p.Ratings) != 2 || p.Ratings["a"] != 2 {
		t.Fatalf("unexpected ratings %v", p.Ratings)
	}
	if p.AverageRating != 3.0 {
		t.Fatalf("expected average 3.0, got %v", p.AverageRating)
	}
}

func TestAverageRoundsToTwoPlaces(t *testing.T) {
	got := Average(map[string]int{"a": 5, "b": 4, "c": 4})
	if got != 4.33 {
		t.Fatalf("expected 4.33, got %v", got)
	}
	// 33/8 = 4.125 sits exactly on a half.
	if got := Average(map[string]int{"a": 4, "b": 4, "c": 4, "d": 4, "e": 4, "f": 4, "g": 4, "h": 5}); got != 4.12 {
		t.Fatalf("expected 4.12, got %v", got)
	}
	if Average(nil) != 0 {
		t.Fatalf("empty average should be 0")
	}
}

func TestRateOutOfRangeLeavesProposalUnchanged(t *testing.T) {
	p := activeProposal(t)
	for _, bad := range []int{0, 6, -1} {
		if err := p.Rate("a", bad); !errors.Is(err, domainerrors.ErrInvalidInput) {
			t.Fatalf("rating %d: expected invalid input, got %v", bad, err)
		}
	}
	if len(p.Ratings) != 0 || p.AverageRating != 0 {
		t.Fatalf("proposal mutated by invalid rating")
	}
}

func TestTransitions(t *testing.T) {
	p := activeProposal(t)
	if err := p.Transition(StatusRejected); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("Active -> Rejected must be illegal, got %v", err)
	}
	if err := p.Transition(StatusValidated); err != nil {
		t.Fatalf("Active -> Validated: %v", err)
	}
	if err := p.Transition(StatusExpired); err == nil {
		t.Fatalf("Validated is terminal")
	}
}

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	d, err := ParseDate("24/12/2026", now)
	if err != nil || d == nil || d.Format(DateLayout) != "2026-12-24" {
		t.Fatalf("DD/MM/YYYY: %v %v", d, err)
	}
	d, err = ParseDate("2026-11-02", now)
	if err != nil || d.Format(DateLayout) != "2026-11-02" {
		t.Fatalf("ISO: %v %v", d, err)
	}
	if d, err := ParseDate("", now); err != nil || d != nil {
		t.Fatalf("empty date should be nil, got %v %v", d, err)
	}
	if _, err := ParseDate("qwerty", now); !errors.Is(err, domainerrors.ErrInvalidDate) {
		t.Fatalf("expected invalid date, got %v", err)
	}
}
