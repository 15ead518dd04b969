package whatsapp

import (
	"errors"
	"fmt"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"go.mau.fi/whatsmeow"
)

var (
	ErrAlreadyExists     = errors.New("whatsapp session already exists")
	ErrNotFound          = errors.New("whatsapp session not found")
	ErrClientUnavailable = errors.New("whatsapp client not available")
	ErrUnknownCommunity  = fmt.Errorf("%w: community not configured", domainerrors.ErrNotFound)
)

// classify maps whatsmeow failures onto the domain error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, whatsmeow.ErrIQForbidden), errors.Is(err, whatsmeow.ErrIQNotAuthorized):
		return fmt.Errorf("%w: %v", domainerrors.ErrPermission, err)
	case errors.Is(err, whatsmeow.ErrNotInGroup), errors.Is(err, whatsmeow.ErrGroupNotFound), errors.Is(err, whatsmeow.ErrIQNotFound):
		return fmt.Errorf("%w: %v", domainerrors.ErrNotFound, err)
	}
	return err
}

// participantError maps the per-participant status code returned by group
// participant updates.
func participantError(code int, participant string) error {
	switch code {
	case 0:
		return nil
	case 401, 403, 408:
		return fmt.Errorf("%w: participant %s rejected the change (%d)", domainerrors.ErrPermission, participant, code)
	case 404:
		return fmt.Errorf("%w: participant %s (%d)", domainerrors.ErrNotFound, participant, code)
	}
	return fmt.Errorf("participant %s update failed with code %d", participant, code)
}
