package call

import "errors"

// Common errors returned by call session operations. Callers can classify
// failures with errors.Is.
var (
	// ErrCallAlreadyInProgress is returned when initiating or answering while
	// another session is active.
	ErrCallAlreadyInProgress = errors.New("a call is already in progress")

	// ErrNoActiveCall is returned by operations that require an active
	// session when there is none.
	ErrNoActiveCall = errors.New("no active call")

	// ErrCallNotFound is returned when the referenced call id does not match
	// any known session.
	ErrCallNotFound = errors.New("call not found")

	// ErrNotAnswerable is returned when answering or rejecting a call that is
	// not in the incoming state.
	ErrNotAnswerable = errors.New("call is not awaiting an answer")

	// ErrTrackUnavailable is returned when toggling a media track the session
	// does not carry.
	ErrTrackUnavailable = errors.New("media track is not part of this call")

	// ErrMediaAccessDenied indicates the user or platform denied device
	// access.
	ErrMediaAccessDenied = errors.New("media device access denied")

	// ErrMediaDeviceNotFound indicates no capture device of the requested
	// kind exists.
	ErrMediaDeviceNotFound = errors.New("media device not found")

	// ErrMediaDeviceBusy indicates the capture device is held by another
	// application.
	ErrMediaDeviceBusy = errors.New("media device busy")

	// ErrNegotiationFailure indicates transport negotiation could not
	// complete.
	ErrNegotiationFailure = errors.New("transport negotiation failed")

	// ErrConnectionLost indicates the peer connection dropped mid-call and
	// could not recover.
	ErrConnectionLost = errors.New("peer connection lost")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("call manager is closed")
)
