package ballot

import (
	"errors"
	"fmt"
	"testing"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

func TestWinnerMostVotes(t *testing.T) {
	b := New("b1", "c1", []string{"A", "B", "C"}, time.Now())
	votes := map[string]string{"v1": "A", "v2": "B", "v3": "B", "v4": "C"}
	for voter, candidate := range votes {
		if err := b.Cast(voter, candidate); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	id, n, ok := b.Winner()
	if !ok || id != "B" || n != 2 {
		t.Fatalf("expected B with 2 votes, got %s %d %v", id, n, ok)
	}
}

func TestWinnerTieBreaksOnLowestID(t *testing.T) {
	b := New("b1", "c1", []string{"C", "B", "A"}, time.Now())
	_ = b.Cast("v1", "C")
	_ = b.Cast("v2", "B")
	_ = b.Cast("v3", "A")
	id, _, ok := b.Winner()
	if !ok || id != "A" {
		t.Fatalf("expected A on three-way tie, got %s", id)
	}
}

func TestNoVotesNoWinner(t *testing.T) {
	b := New("b1", "c1", []string{"A"}, time.Now())
	if _, _, ok := b.Winner(); ok {
		t.Fatalf("empty ballot must not have a winner")
	}
	if !b.Close(time.Now()) {
		t.Fatalf("first close should report true")
	}
	if b.WinnerID != "" {
		t.Fatalf("winner set without votes")
	}
	if b.Close(time.Now()) {
		t.Fatalf("second close should be a no-op")
	}
}

func TestCastValidation(t *testing.T) {
	b := New("b1", "c1", []string{"A"}, time.Now())
	if err := b.Cast("v1", "Z"); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid choice, got %v", err)
	}
	b.Close(time.Now())
	if err := b.Cast("v1", "A"); !errors.Is(err, domainerrors.ErrBallotClosed) {
		t.Fatalf("expected closed ballot error, got %v", err)
	}
}

func TestRankCapsAndOrders(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 30; i++ {
		cands = append(cands, Candidate{ID: fmt.Sprintf("p%02d", i), AverageRating: float64(i % 5)})
	}
	ranked := Rank(cands, MaxCandidates)
	if len(ranked) != MaxCandidates {
		t.Fatalf("expected %d candidates, got %d", MaxCandidates, len(ranked))
	}
	if ranked[0] != "p04" || ranked[1] != "p09" {
		t.Fatalf("expected highest average with lowest id first, got %v", ranked[:3])
	}
}
