// Package session runs the per-call state machine. Caller and callee each
// run their own instance; the only coordination between them is the status
// field of the CallSignal relayed through the store. The machine is
// designed to stay correct under duplicate delivery, reordering, and
// independently-failing peers.
package session

import (
	"time"

	"github.com/observer/dialtone/internal/signal"
	"github.com/observer/dialtone/internal/transport"
)

// Phase is the local call phase. It mirrors the wire status plus two
// local-only phases: connecting (accepted, transport handshake in progress)
// and idle (no active call).
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRinging    Phase = "ringing"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
)

// Role determines which transitions a side may self-initiate.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// EndReason explains a PhaseEnded transition.
type EndReason string

const (
	EndDeclined        EndReason = "declined"
	EndCancelled       EndReason = "cancelled"
	EndHungUp          EndReason = "hungUp"
	EndTransportFailed EndReason = "transportFailed"
)

// Identity is the local user the manager signals on behalf of. Display
// metadata rides outgoing signals but is never authoritative.
type Identity struct {
	UserID    string
	Name      string
	AvatarURL string
}

// PhaseChange is a snapshot notification delivered to phase listeners
// (UI, ringtone player, call log). Reason is set only for PhaseEnded.
type PhaseChange struct {
	CallID     string
	PeerID     string
	PeerName   string
	PeerAvatar string
	Role       Role
	CallType   signal.CallType
	Phase      Phase
	Reason     EndReason
}

// call is the ephemeral working state of one call. Guarded by Manager.mu.
type call struct {
	role       Role
	callID     string
	peerID     string
	peerName   string
	peerAvatar string
	callType   signal.CallType
	phase      Phase
	reason     EndReason
	expiresAt  time.Time

	ringTimer   *time.Timer
	outgoingSub unsubscriber
	media       transport.Session
}

type unsubscriber interface {
	Unsubscribe() error
}

func (c *call) snapshot() PhaseChange {
	return PhaseChange{
		CallID:     c.callID,
		PeerID:     c.peerID,
		PeerName:   c.peerName,
		PeerAvatar: c.peerAvatar,
		Role:       c.role,
		CallType:   c.callType,
		Phase:      c.phase,
		Reason:     c.reason,
	}
}

// callerID returns the initiating party's ID for this call, which is the
// peer when we are the callee.
func (c *call) callerID(selfID string) string {
	if c.role == RoleCaller {
		return selfID
	}
	return c.peerID
}

// calleeID mirrors callerID.
func (c *call) calleeID(selfID string) string {
	if c.role == RoleCaller {
		return c.peerID
	}
	return selfID
}
