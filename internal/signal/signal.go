// Package signal defines the wire format for call signaling: the CallSignal
// envelope exchanged through the realtime store, the status vocabulary, and
// the key-path scheme. Everything here is pure: no store access, no state.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle status carried by a CallSignal.
// "ringing" is the only non-terminal status.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends the signaling exchange.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusDeclined || s == StatusCancelled
}

// Valid reports whether the status is part of the protocol vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusAccepted, StatusDeclined, StatusCancelled:
		return true
	}
	return false
}

// CallType declares the session's initial media intent. An audio call may
// later be upgraded to video by the transport layer; that renegotiation is
// not expressed as a new CallSignal.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether the call type is known.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// ErrInvalidSignal marks a malformed payload read from the store. Callers
// log and discard; it never reaches the user.
var ErrInvalidSignal = errors.New("invalid call signal")

// CallSignal is the envelope written to both the callee's incoming slot and
// the caller's outgoing slot. Field names are part of the wire contract and
// must not change.
type CallSignal struct {
	CallID       string   `json:"callId"`
	CallerID     string   `json:"callerId"`
	CallerName   string   `json:"callerName,omitempty"`
	CallerAvatar string   `json:"callerAvatar,omitempty"`
	CallType     CallType `json:"callType"`
	Timestamp    int64    `json:"timestamp"` // epoch millis of creation or last status transition
	Status       Status   `json:"status"`
}

// Encode serializes the signal for a store write.
func Encode(s *CallSignal) ([]byte, error) {
	return json.Marshal(s)
}

// Validate is the single boundary where untyped store data enters the typed
// core. It rejects payloads missing callId, callerId, callType, or status,
// or with a status outside the vocabulary. Unknown extra fields are ignored
// so newer peers can add fields without breaking older ones.
func Validate(raw []byte) (*CallSignal, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidSignal)
	}

	var s CallSignal
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	if s.CallID == "" {
		return nil, fmt.Errorf("%w: missing callId", ErrInvalidSignal)
	}
	if s.CallerID == "" {
		return nil, fmt.Errorf("%w: missing callerId", ErrInvalidSignal)
	}
	if !s.CallType.Valid() {
		return nil, fmt.Errorf("%w: bad callType %q", ErrInvalidSignal, s.CallType)
	}
	if !s.Status.Valid() {
		return nil, fmt.Errorf("%w: bad status %q", ErrInvalidSignal, s.Status)
	}

	return &s, nil
}

// CreatedAt returns the signal timestamp as wall-clock time.
func (s *CallSignal) CreatedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Expired reports whether the signal is older than the given window.
// Stale ringing signals (e.g. left behind by a crashed session) are removed
// rather than surfaced.
func (s *CallSignal) Expired(window time.Duration, now time.Time) bool {
	return now.Sub(s.CreatedAt()) > window
}
