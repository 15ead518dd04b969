package errors

import (
	"errors"
	"fmt"
)

// Base classes. Callers classify with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrPermission     = errors.New("permission denied")
	ErrMalformedState = errors.New("malformed persisted state")
	ErrInvalidInput   = errors.New("invalid input")
)

var (
	ErrDuplicateRecommendation = fmt.Errorf("%w: candidate already has a pending recommendation", ErrInvalidInput)
	ErrSelfTarget              = fmt.Errorf("%w: initiator cannot target themselves", ErrInvalidInput)
	ErrAutomatedTarget         = fmt.Errorf("%w: target is an automated participant", ErrInvalidInput)
	ErrProtectedTarget         = fmt.Errorf("%w: target holds the administrative capability", ErrInvalidInput)
	ErrInvalidRating           = fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	ErrInvalidChoice           = fmt.Errorf("%w: choice not allowed for this decision", ErrInvalidInput)
	ErrInvalidDate             = fmt.Errorf("%w: unrecognised date", ErrInvalidInput)
	ErrIllegalTransition       = fmt.Errorf("%w: illegal status transition", ErrInvalidInput)
	ErrCircleFull              = fmt.Errorf("%w: circle is full", ErrInvalidInput)
	ErrAlreadyInCircle         = fmt.Errorf("%w: participant already belongs to a circle", ErrInvalidInput)
	ErrNotInCircle             = fmt.Errorf("%w: participant does not belong to a circle", ErrInvalidInput)
	ErrDuplicateCircle         = fmt.Errorf("%w: circle name already taken", ErrInvalidInput)
	ErrInvalidColor            = fmt.Errorf("%w: color must be #RRGGBB", ErrInvalidInput)
	ErrNotEligible             = fmt.Errorf("%w: participant is not an eligible voter", ErrInvalidInput)
	ErrBallotClosed            = fmt.Errorf("%w: ballot is not open", ErrInvalidInput)
	ErrNotRateable             = fmt.Errorf("%w: proposal is not open for ratings", ErrInvalidInput)
	ErrEmptyField              = fmt.Errorf("%w: required field is empty", ErrInvalidInput)
)

// IsClientError reports whether err belongs to the input or lookup classes.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound)
}

var (
	ErrAlreadyMember      = fmt.Errorf("%w: candidate already holds the member capability", ErrInvalidInput)
	ErrDuplicateExclusion = fmt.Errorf("%w: target already has a pending exclusion request", ErrInvalidInput)
	ErrUnknownParticipant = fmt.Errorf("%w: participant is not part of the community", ErrNotFound)
	ErrNoOpenBallot       = fmt.Errorf("%w: no open ballot", ErrNotFound)
)
