package membership

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

func TestRecommendationTransitions(t *testing.T) {
	rec, err := NewRecommendation("r1", "c1", "cand", "rec", time.Now())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := rec.Transition(RecommendationApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := rec.Transition(RecommendationWithdrawn); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition from terminal, got %v", err)
	}
}

func TestExclusionRejectsSelfTarget(t *testing.T) {
	if _, err := NewExclusionRequest("x", "c1", "same", "same", "", time.Now()); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUnknownStatusIsMalformed(t *testing.T) {
	var rec Recommendation
	err := json.Unmarshal([]byte(`{"id":"r1","status":"Maybe"}`), &rec)
	if !errors.Is(err, domainerrors.ErrMalformedState) {
		t.Fatalf("expected malformed state, got %v", err)
	}
}
