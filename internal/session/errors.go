package session

import "errors"

// Session errors - use these for consistent error handling
var (
	// ErrBusy means the callee already has an unexpired ringing or accepted
	// entry. Reported before any store write happens.
	ErrBusy = errors.New("callee is busy")

	// ErrAlreadyInCall means this side has an active session of its own.
	ErrAlreadyInCall = errors.New("already in a call")

	// ErrThrottled means the outbound call rate limit was hit.
	ErrThrottled = errors.New("placing calls too quickly")

	// ErrNoActiveCall means the operation needs a session and there is none.
	ErrNoActiveCall = errors.New("no active call")

	// ErrWrongPhase means the operation is not legal in the current phase
	// or for the current role.
	ErrWrongPhase = errors.New("operation not valid in current call phase")

	// ErrClosed means the manager was shut down.
	ErrClosed = errors.New("session manager is closed")
)
