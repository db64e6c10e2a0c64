package relay

import "errors"

var (
	// ErrUnknownSession is returned when an operation references a session
	// that is no longer registered. Disconnects race with in-flight
	// dispatches, so callers treat this as skippable, never fatal.
	ErrUnknownSession = errors.New("unknown session")

	// ErrDuplicateSession is returned when a session ID is registered
	// twice. Transport-assigned IDs make this a defect upstream; the
	// registration is rejected and the offending connection closed.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrUnknownRoom is returned when a locator does not resolve. Reported
	// back to the requester as an ERR frame.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrUnauthorized is returned when a room operation requires ownership
	// the requester does not hold.
	ErrUnauthorized = errors.New("not room owner")

	// ErrLocatorSpace is returned when locator generation keeps colliding
	// with existing rooms. Practically unreachable below billions of rooms.
	ErrLocatorSpace = errors.New("could not allocate unique locator")
)
