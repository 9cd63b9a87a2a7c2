package battery

import "errors"

// Domain errors for the battery package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, battery.ErrNoSession) {
//	    // surface "not configured" to the caller
//	}
var (
	// ErrNoSession is returned when a query or subscription arrives while
	// no monitoring session is active.
	ErrNoSession = errors.New("battery: no active session")

	// ErrSessionClosed is returned when an operation targets a session
	// that has already been torn down.
	ErrSessionClosed = errors.New("battery: session closed")

	// ErrSubscriberStale is returned by subscribers whose delivery channel
	// is gone; the notifier prunes them after the current fan-out pass.
	ErrSubscriberStale = errors.New("battery: subscriber stale")
)
