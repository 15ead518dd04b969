package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"github.com/faeln1/go-whatsapp-council/pkg/ids"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// CircleService manages circle membership. Every change rewrites the circle
// collection atomically, so a participant never ends up in two circles.
type CircleService struct {
	circles   *repositories.Records[circle.Circle]
	directory Directory
	clock     Clock
	log       waLog.Logger
}

func NewCircleService(store repositories.WorkflowStore, directory Directory, clock Clock, log waLog.Logger) *CircleService {
	if log == nil {
		log = waLog.Noop
	}
	return &CircleService{
		circles:   repositories.NewRecords[circle.Circle](store, repositories.CollectionCircles, log),
		directory: directory,
		clock:     clock,
		log:       log,
	}
}

func (s *CircleService) Create(ctx context.Context, communityID string, in circle.CreateInput) (*circle.Circle, error) {
	id, err := ids.NewULID(s.clock.now())
	if err != nil {
		return nil, err
	}
	created, err := circle.New(id, in)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, communityID, in.FounderID); err != nil {
		return nil, err
	}
	founder := created.MemberIDs[0]

	err = s.circles.UpdateAll(ctx, communityID, func(items []repositories.Keyed[circle.Circle]) ([]repositories.Keyed[circle.Circle], error) {
		for _, item := range items {
			if strings.EqualFold(item.Value.DisplayName, created.DisplayName) {
				return nil, domainerrors.ErrDuplicateCircle
			}
			if item.Value.Has(founder) {
				return nil, domainerrors.ErrAlreadyInCircle
			}
		}
		return append(items, repositories.Keyed[circle.Circle]{Key: created.ID, Value: created}), nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("circle %s (%s) created in %s by %s", created.ID, created.DisplayName, communityID, founder)
	return created, nil
}

// List returns circles in creation order; joinable keeps only those with room.
func (s *CircleService) List(ctx context.Context, communityID string, joinable bool) ([]circle.Circle, error) {
	items, err := s.circles.List(ctx, communityID)
	if err != nil {
		return nil, err
	}
	out := make([]circle.Circle, 0, len(items))
	for _, item := range items {
		if joinable && item.Value.Full() {
			continue
		}
		out = append(out, *item.Value)
	}
	return out, nil
}

func (s *CircleService) Get(ctx context.Context, communityID, circleID string) (*circle.Circle, error) {
	c, err := s.circles.Get(ctx, communityID, circleID)
	if err != nil {
		if repositories.IsMissing(err) {
			return nil, fmt.Errorf("%w: circle %s", domainerrors.ErrNotFound, circleID)
		}
		return nil, err
	}
	return c, nil
}

// Join moves participantID into circleID, leaving any previous circle.
func (s *CircleService) Join(ctx context.Context, communityID, circleID, participantID string) (*circle.Circle, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, domainerrors.ErrEmptyField
	}
	if err := s.requireMember(ctx, communityID, participantID); err != nil {
		return nil, err
	}

	var joined circle.Circle
	err := s.circles.UpdateAll(ctx, communityID, func(items []repositories.Keyed[circle.Circle]) ([]repositories.Keyed[circle.Circle], error) {
		var target *circle.Circle
		for _, item := range items {
			if item.Key == circleID {
				target = item.Value
			}
		}
		if target == nil {
			return nil, fmt.Errorf("%w: circle %s", domainerrors.ErrNotFound, circleID)
		}
		if target.Has(participantID) {
			joined = *target
			return nil, repositories.ErrSkipUpdate
		}
		if target.Full() {
			return nil, domainerrors.ErrCircleFull
		}
		kept := items[:0]
		for _, item := range items {
			if item.Key != circleID && item.Value.Remove(participantID) {
				s.log.Debugf("%s leaves circle %s to join %s", participantID, item.Key, circleID)
				if item.Value.Empty() {
					continue
				}
			}
			kept = append(kept, item)
		}
		if err := target.Add(participantID); err != nil {
			return nil, err
		}
		joined = *target
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return &joined, nil
}

// Leave removes participantID from its circle; an emptied circle is purged
// while its score history stays.
func (s *CircleService) Leave(ctx context.Context, communityID, participantID string) error {
	found := false
	err := s.circles.UpdateAll(ctx, communityID, func(items []repositories.Keyed[circle.Circle]) ([]repositories.Keyed[circle.Circle], error) {
		kept := items[:0]
		for _, item := range items {
			if item.Value.Remove(participantID) {
				found = true
				if item.Value.Empty() {
					s.log.Infof("circle %s in %s purged after its last member left", item.Key, communityID)
					continue
				}
			}
			kept = append(kept, item)
		}
		if !found {
			return nil, domainerrors.ErrNotInCircle
		}
		return kept, nil
	})
	return err
}

func (s *CircleService) requireMember(ctx context.Context, communityID, participantID string) error {
	if s.directory == nil {
		return nil
	}
	ok, err := s.directory.HasCapability(ctx, communityID, participantID, decision.CapabilityMember)
	if err != nil {
		return err
	}
	if !ok {
		return domainerrors.ErrNotEligible
	}
	return nil
}
