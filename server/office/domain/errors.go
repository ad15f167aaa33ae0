package domain

import "errors"

var (
	// Identity and ownership
	ErrUnauthenticated    = errors.New("session is not identified")
	ErrForbidden          = errors.New("not allowed to act on this participant")
	ErrUnknownParticipant = errors.New("unknown participant")

	// Stage and spaces
	ErrOutOfBounds     = errors.New("position is outside the stage")
	ErrUnknownSpace    = errors.New("unknown space")
	ErrNotInOffice     = errors.New("participant is not in the office")
	ErrTooFar          = errors.New("too far from the space")
	ErrFull            = errors.New("space is full")
	ErrLocked          = errors.New("space is locked")
	ErrNotOccupant     = errors.New("participant is not in a space")
	ErrNoActiveMeeting = errors.New("participant has no active meeting")

	// Chat
	ErrUnknownThread    = errors.New("unknown thread")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrDuplicateMessage = errors.New("duplicate client_msg_id")

	// Build mode
	ErrUnknownObject = errors.New("unknown workspace object")
	ErrBoardFull     = errors.New("workspace object limit reached")

	ErrInvalidCommand = errors.New("invalid command")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthenticated, "unauthenticated"},
	{ErrForbidden, "forbidden"},
	{ErrUnknownParticipant, "unknown_participant"},
	{ErrOutOfBounds, "out_of_bounds"},
	{ErrUnknownSpace, "unknown_space"},
	{ErrNotInOffice, "not_in_office"},
	{ErrTooFar, "too_far"},
	{ErrFull, "full"},
	{ErrLocked, "locked"},
	{ErrNotOccupant, "not_occupant"},
	{ErrNoActiveMeeting, "no_active_meeting"},
	{ErrUnknownThread, "unknown_thread"},
	{ErrInvalidMessage, "invalid_message"},
	{ErrDuplicateMessage, "duplicate_message"},
	{ErrUnknownObject, "unknown_object"},
	{ErrBoardFull, "board_full"},
	{ErrInvalidCommand, "invalid_command"},
}

// Reason maps an error to its stable wire code. Unrecognized errors are
// reported as "internal".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}

// IsRejection reports whether err is a business-rule rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	return Reason(err) != "internal" && err != nil
}
