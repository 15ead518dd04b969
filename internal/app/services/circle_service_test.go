package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

func TestCreateCircle(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")

	g, err := h.circles.Create(ctx, "c1", circle.CreateInput{DisplayName: "Owls", Color: "#336699", FounderID: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.ColorValue != 0x336699 || len(g.MemberIDs) != 1 || g.MemberIDs[0] != "a" {
		t.Fatalf("unexpected circle %+v", g)
	}

	cases := []struct {
		name string
		in   circle.CreateInput
		want error
	}{
		{"duplicate name", circle.CreateInput{DisplayName: "owls", Color: "#000000", FounderID: "b"}, domainerrors.ErrDuplicateCircle},
		{"founder already in a circle", circle.CreateInput{DisplayName: "Hawks", Color: "#000000", FounderID: "a"}, domainerrors.ErrAlreadyInCircle},
		{"bad color", circle.CreateInput{DisplayName: "Hawks", Color: "blue", FounderID: "b"}, domainerrors.ErrInvalidColor},
		{"not a member", circle.CreateInput{DisplayName: "Hawks", Color: "#000000", FounderID: "x"}, domainerrors.ErrNotEligible},
	}
	for _, tc := range cases {
		if _, err := h.circles.Create(ctx, "c1", tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if list, _ := h.circles.List(ctx, "c1", false); len(list) != 1 {
		t.Fatalf("expected one circle, got %d", len(list))
	}
}

func TestJoinMovesParticipant(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b", "c")
	owls, _ := h.circles.Create(ctx, "c1", circle.CreateInput{DisplayName: "Owls", Color: "#111111", FounderID: "a"})
	hawks, _ := h.circles.Create(ctx, "c1", circle.CreateInput{DisplayName: "Hawks", Color: "#222222", FounderID: "b"})

	if _, err := h.circles.Join(ctx, "c1", owls.ID, "c"); err != nil {
		t.Fatalf("join: %v", err)
	}
	joined, err := h.circles.Join(ctx, "c1", hawks.ID, "c")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !joined.Has("c") || len(joined.MemberIDs) != 2 {
		t.Fatalf("expected c in hawks, got %+v", joined)
	}
	if g, _ := h.circles.Get(ctx, "c1", owls.ID); g.Has("c") {
		t.Fatalf("c must have left owls")
	}
	again, err := h.circles.Join(ctx, "c1", hawks.ID, "c")
	if err != nil || len(again.MemberIDs) != 2 {
		t.Fatalf("joining twice is a no-op, got %+v %v", again, err)
	}

	// The founder of owls moves away and owls disappears.
	if _, err := h.circles.Join(ctx, "c1", hawks.ID, "a"); err != nil {
		t.Fatalf("move founder: %v", err)
	}
	if _, err := h.circles.Get(ctx, "c1", owls.ID); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("empty circle should be purged, got %v", err)
	}
	if _, err := h.circles.Join(ctx, "c1", "nope", "a"); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCircleCapacity(t *testing.T) {
	ctx := context.Background()
	members := []string{"founder", "late"}
	for i := 1; i < circle.MaxMembers; i++ {
		members = append(members, fmt.Sprintf("m%d", i))
	}
	h := newHarness(members...)
	g, _ := h.circles.Create(ctx, "c1", circle.CreateInput{DisplayName: "Big", Color: "#abcdef", FounderID: "founder"})
	for i := 1; i < circle.MaxMembers; i++ {
		if _, err := h.circles.Join(ctx, "c1", g.ID, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if _, err := h.circles.Join(ctx, "c1", g.ID, "late"); !errors.Is(err, domainerrors.ErrCircleFull) {
		t.Fatalf("expected full, got %v", err)
	}
	if joinable, _ := h.circles.List(ctx, "c1", true); len(joinable) != 0 {
		t.Fatalf("full circle is not joinable")
	}
}

func TestLeaveCircle(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	g, _ := h.circles.Create(ctx, "c1", circle.CreateInput{DisplayName: "Owls", Color: "#111111", FounderID: "a"})
	_, _ = h.circles.Join(ctx, "c1", g.ID, "b")

	if err := h.circles.Leave(ctx, "c1", "a"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got, _ := h.circles.Get(ctx, "c1", g.ID); len(got.MemberIDs) != 1 || got.MemberIDs[0] != "b" {
		t.Fatalf("expected only b left, got %+v", got)
	}
	if err := h.circles.Leave(ctx, "c1", "a"); !errors.Is(err, domainerrors.ErrNotInCircle) {
		t.Fatalf("expected not in circle, got %v", err)
	}
	if err := h.circles.Leave(ctx, "c1", "b"); err != nil {
		t.Fatalf("last leave: %v", err)
	}
	if _, err := h.circles.Get(ctx, "c1", g.ID); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("empty circle should be purged, got %v", err)
	}
}
