package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/observer/dialtone/internal/ledger"
	"github.com/observer/dialtone/internal/signal"
	"github.com/observer/dialtone/internal/store"
	"github.com/observer/dialtone/internal/transport"
)

// Options are the tunable timings of the protocol. The qualitative ordering
// is fixed (busy check before write, grace delay before removal on accept,
// immediate removal on decline/cancel); the constants are not.
type Options struct {
	// RingTimeout bounds the ringing phase; it doubles as the staleness
	// window for discarding leftover signals. Default 120s.
	RingTimeout time.Duration

	// AcceptGrace delays store cleanup after acceptance so the caller can
	// still read the terminal status. Default 2s.
	AcceptGrace time.Duration

	// CallsPerMinute limits outbound call attempts. Default 10.
	CallsPerMinute int
}

func (o Options) withDefaults() Options {
	if o.RingTimeout <= 0 {
		o.RingTimeout = 120 * time.Second
	}
	if o.AcceptGrace <= 0 {
		o.AcceptGrace = 2 * time.Second
	}
	if o.CallsPerMinute <= 0 {
		o.CallsPerMinute = 10
	}
	return o
}

// Manager drives the call state machine for one local identity. At most
// one call is active at a time; a new PlaceCall while a session exists
// fails with ErrAlreadyInCall.
type Manager struct {
	identity  Identity
	store     store.Store
	ledger    *ledger.Ledger
	transport transport.Transport
	opts      Options
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu           sync.Mutex
	current      *call
	incomingSub  store.Subscription
	listeners    map[uint64]func(PhaseChange)
	nextListener uint64
	started      bool
	closed       bool

	// now is swappable for tests
	now func() time.Time
}

// NewManager creates a session manager for the given identity
func NewManager(id Identity, st store.Store, led *ledger.Ledger, tr transport.Transport, opts Options, logger *slog.Logger) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		identity:  id,
		store:     st,
		ledger:    led,
		transport: tr,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(float64(opts.CallsPerMinute)/60.0), max(opts.CallsPerMinute/10, 3)),
		logger:    logger.With("component", "session", "user_id", id.UserID),
		listeners: make(map[uint64]func(PhaseChange)),
		now:       time.Now,
	}
}

// Start subscribes to the user's incoming branch and begins observing
// signals. Existing entries are replayed by the store; the ledger keeps
// replays from re-surfacing prompts.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	sub, err := m.store.Subscribe(ctx, signal.IncomingRoot(m.identity.UserID), m.onIncoming)
	if err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return fmt.Errorf("subscribe incoming: %w", err)
	}

	m.mu.Lock()
	m.incomingSub = sub
	m.mu.Unlock()

	m.logger.Info("session manager started")
	return nil
}

// Close tears down subscriptions, timers, and any live transport session.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	if m.incomingSub != nil {
		_ = m.incomingSub.Unsubscribe()
		m.incomingSub = nil
	}

	var media transport.Session
	if m.current != nil {
		m.teardownLocked(m.current)
		media = m.current.media
		m.current = nil
	}
	m.mu.Unlock()

	if media != nil {
		_ = media.Disconnect()
	}
	m.logger.Info("session manager closed")
	return nil
}

// SubscribePhase registers a phase-change listener and returns an
// unsubscribe function. Listeners are invoked sequentially.
func (m *Manager) SubscribePhase(fn func(PhaseChange)) func() {
	m.mu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Phase returns the current local phase (PhaseIdle when no call exists).
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return PhaseIdle
	}
	return m.current.phase
}

// Current returns a snapshot of the active call, or nil.
func (m *Manager) Current() *PhaseChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	snap := m.current.snapshot()
	return &snap
}

// PlaceCall initiates a call to calleeID. It checks the callee's incoming
// entries first and fails fast with ErrBusy before performing any write.
func (m *Manager) PlaceCall(ctx context.Context, calleeID string, callType signal.CallType) (string, error) {
	if !callType.Valid() {
		return "", fmt.Errorf("%w: bad call type %q", signal.ErrInvalidSignal, callType)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if m.current != nil {
		m.mu.Unlock()
		return "", ErrAlreadyInCall
	}
	m.mu.Unlock()

	if !m.limiter.Allow() {
		return "", ErrThrottled
	}

	if err := m.checkBusy(ctx, calleeID); err != nil {
		return "", err
	}

	now := m.now()
	callID := signal.BuildCallID(m.identity.UserID, calleeID, now)
	sig := &signal.CallSignal{
		CallID:       callID,
		CallerID:     m.identity.UserID,
		CallerName:   m.identity.Name,
		CallerAvatar: m.identity.AvatarURL,
		CallType:     callType,
		Timestamp:    now.UnixMilli(),
		Status:       signal.StatusRinging,
	}

	if err := m.writeBoth(ctx, calleeID, sig); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed || m.current != nil {
		// Lost a race while writing; back out
		m.mu.Unlock()
		m.removeBoth(context.Background(), m.identity.UserID, calleeID, callID)
		return "", ErrAlreadyInCall
	}
	c := &call{
		role:      RoleCaller,
		callID:    callID,
		peerID:    calleeID,
		callType:  callType,
		phase:     PhaseRinging,
		expiresAt: now.Add(m.opts.RingTimeout),
	}
	c.ringTimer = time.AfterFunc(m.opts.RingTimeout, func() { m.onRingTimeout(callID) })
	m.current = c
	snap := c.snapshot()
	m.mu.Unlock()

	m.logger.Info("call placed", "call_id", callID, "callee_id", calleeID, "call_type", callType)
	m.notify(snap)

	// Watch our own outgoing slot for the callee's status transitions. The
	// call record exists before the watch starts, and the subscription
	// replays the slot's current value, so a transition written in this
	// window is observed rather than dropped.
	outSub, err := m.store.Subscribe(ctx, signal.OutgoingPath(m.identity.UserID, callID), m.onOutgoing)
	if err != nil {
		m.removeBoth(context.Background(), m.identity.UserID, calleeID, callID)
		m.endCall(callID, EndCancelled)
		return "", fmt.Errorf("subscribe outgoing: %w", err)
	}

	m.mu.Lock()
	if m.current == c {
		c.outgoingSub = outSub
		m.mu.Unlock()
	} else {
		// The call already ended while we were subscribing
		m.mu.Unlock()
		_ = outSub.Unsubscribe()
	}
	return callID, nil
}

// checkBusy scans the callee's incoming branch, and our own, for an
// unexpired ringing or accepted entry. Our own branch matters for the
// mutual-call race: the callee may have rung us already even though the
// subscription has not surfaced it yet. Performs no writes.
func (m *Manager) checkBusy(ctx context.Context, calleeID string) error {
	now := m.now()
	for _, root := range []string{
		signal.IncomingRoot(calleeID),
		signal.IncomingRoot(m.identity.UserID),
	} {
		entries, err := m.store.List(ctx, root)
		if err != nil {
			return fmt.Errorf("busy check: %w", err)
		}
		for path, raw := range entries {
			sig, err := signal.Validate(raw)
			if err != nil {
				m.logger.Warn("discarding invalid signal during busy check", "path", path, "error", err)
				continue
			}
			switch sig.Status {
			case signal.StatusRinging:
				if !sig.Expired(m.opts.RingTimeout, now) {
					return ErrBusy
				}
			case signal.StatusAccepted:
				return ErrBusy
			}
		}
	}
	return nil
}

// Accept answers the ringing call. A zero-value override keeps the ring's
// media type; an audio-only accept of a video ring is allowed and the
// callee's choice wins on the initial media type.
func (m *Manager) Accept(ctx context.Context, override signal.CallType) error {
	m.mu.Lock()
	c := m.current
	if c == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	if c.role != RoleCallee || c.phase != PhaseRinging {
		m.mu.Unlock()
		return ErrWrongPhase
	}

	callID, callerID := c.callID, c.peerID
	accepted := c.callType
	if override.Valid() {
		accepted = override
	}
	sig := &signal.CallSignal{
		CallID:       callID,
		CallerID:     callerID,
		CallerName:   c.peerName,
		CallerAvatar: c.peerAvatar,
		CallType:     accepted,
		Timestamp:    m.now().UnixMilli(),
		Status:       signal.StatusAccepted,
	}
	m.mu.Unlock()

	// Status write to both slots; the machine holds PhaseRinging on failure
	if err := m.writeBoth(ctx, m.identity.UserID, sig); err != nil {
		return err
	}

	m.mu.Lock()
	if m.current != c || c.phase != PhaseRinging {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	if c.ringTimer != nil {
		c.ringTimer.Stop()
	}
	c.callType = accepted
	c.phase = PhaseConnecting
	snap := c.snapshot()
	m.mu.Unlock()

	// Deferred cleanup so a caller reading at the moment of acceptance
	// still observes the terminal status
	time.AfterFunc(m.opts.AcceptGrace, func() {
		m.removeBoth(context.Background(), callerID, m.identity.UserID, callID)
	})

	m.logger.Info("call accepted", "call_id", callID, "call_type", accepted)
	m.notify(snap)
	go m.connectMedia(callID, callerID, accepted)
	return nil
}

// Decline rejects the ringing call: terminal status to both slots, then
// immediate removal of both.
func (m *Manager) Decline(ctx context.Context) error {
	m.mu.Lock()
	c := m.current
	if c == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	if c.role != RoleCallee || c.phase != PhaseRinging {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	callID, callerID := c.callID, c.peerID
	sig := &signal.CallSignal{
		CallID:    callID,
		CallerID:  callerID,
		CallType:  c.callType,
		Timestamp: m.now().UnixMilli(),
		Status:    signal.StatusDeclined,
	}
	m.mu.Unlock()

	if err := m.writeBoth(ctx, m.identity.UserID, sig); err != nil {
		return err
	}
	m.removeBoth(ctx, callerID, m.identity.UserID, callID)
	_ = m.ledger.MarkHandled(callID)

	m.endCall(callID, EndDeclined)
	m.logger.Info("call declined", "call_id", callID)
	return nil
}

// Cancel hangs up an outbound call before the callee answers.
func (m *Manager) Cancel(ctx context.Context) error {
	m.mu.Lock()
	c := m.current
	if c == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	if c.role != RoleCaller || c.phase != PhaseRinging {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	callID, calleeID := c.callID, c.peerID
	sig := &signal.CallSignal{
		CallID:    callID,
		CallerID:  m.identity.UserID,
		CallType:  c.callType,
		Timestamp: m.now().UnixMilli(),
		Status:    signal.StatusCancelled,
	}
	m.mu.Unlock()

	if err := m.writeBoth(ctx, calleeID, sig); err != nil {
		return err
	}
	m.removeBoth(ctx, m.identity.UserID, calleeID, callID)

	m.endCall(callID, EndCancelled)
	m.logger.Info("call cancelled", "call_id", callID)
	return nil
}

// HangUp ends whatever call is active: before acceptance it behaves as
// cancel or decline per role; after, it is purely a transport teardown
// since the store entries were already cleaned up at acceptance.
func (m *Manager) HangUp(ctx context.Context) error {
	m.mu.Lock()
	c := m.current
	if c == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	phase, role := c.phase, c.role
	m.mu.Unlock()

	if phase == PhaseRinging {
		if role == RoleCaller {
			return m.Cancel(ctx)
		}
		return m.Decline(ctx)
	}

	m.mu.Lock()
	if m.current != c {
		m.mu.Unlock()
		return nil
	}
	media := c.media
	m.mu.Unlock()

	if media != nil {
		_ = media.Disconnect()
	}
	m.endCall(c.callID, EndHungUp)
	m.logger.Info("call hung up", "call_id", c.callID)
	return nil
}

// SetMicrophoneEnabled toggles outgoing audio on the live media session.
func (m *Manager) SetMicrophoneEnabled(enabled bool) error {
	m.mu.Lock()
	var media transport.Session
	if m.current != nil {
		media = m.current.media
	}
	m.mu.Unlock()

	if media == nil {
		return ErrNoActiveCall
	}
	return media.SetMicrophoneEnabled(enabled)
}

// SetCameraEnabled toggles outgoing video on the live media session.
func (m *Manager) SetCameraEnabled(enabled bool) error {
	m.mu.Lock()
	var media transport.Session
	if m.current != nil {
		media = m.current.media
	}
	m.mu.Unlock()

	if media == nil {
		return ErrNoActiveCall
	}
	return media.SetCameraEnabled(enabled)
}

// onIncoming observes the user's incoming branch: new rings, caller-side
// cancellations, and removals.
func (m *Manager) onIncoming(ctx context.Context, path string, value []byte) {
	callID := signal.CallIDFromPath(path)
	if callID == "" {
		return
	}

	if value == nil {
		// Entry removed while we are still ringing. The removal may have
		// outrun the terminal status write that preceded it, so wait one
		// grace window for that status before concluding cancellation.
		m.mu.Lock()
		c := m.current
		if c == nil || c.callID != callID || c.role != RoleCallee || c.phase != PhaseRinging {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		time.AfterFunc(m.opts.AcceptGrace, func() {
			m.endIfStillRinging(callID, RoleCallee, EndCancelled)
		})
		return
	}

	sig, err := signal.Validate(value)
	if err != nil {
		m.logger.Warn("discarding invalid incoming signal", "path", path, "error", err)
		return
	}
	if sig.CallID != callID {
		m.logger.Warn("discarding signal whose call id disagrees with its path", "path", path, "call_id", sig.CallID)
		return
	}

	switch sig.Status {
	case signal.StatusRinging:
		m.handleRing(ctx, path, sig)
	case signal.StatusCancelled:
		m.mu.Lock()
		c := m.current
		if c == nil || c.callID != sig.CallID || c.role != RoleCallee || c.phase != PhaseRinging {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.endCall(sig.CallID, EndCancelled)
	default:
		// accepted/declined on our own incoming slot are echoes of our own
		// writes; a side that has left ringing ignores further statuses
	}
}

// handleRing surfaces a new incoming call, gated by staleness and the
// handled-call ledger.
func (m *Manager) handleRing(ctx context.Context, path string, sig *signal.CallSignal) {
	now := m.now()
	if sig.Expired(m.opts.RingTimeout, now) {
		// Leftover from a crashed session: silently remove, never surface
		m.logger.Info("removing stale ring", "call_id", sig.CallID, "age", now.Sub(sig.CreatedAt()))
		if err := m.store.Remove(ctx, path); err != nil {
			m.logger.Warn("failed to remove stale ring", "path", path, "error", err)
		}
		return
	}

	if m.ledger.IsRecentlyHandled(sig.CallID) {
		m.logger.Debug("suppressing duplicate ring delivery", "call_id", sig.CallID)
		return
	}

	// Re-read the slot before surfacing: a cancel racing this delivery may
	// already have overwritten or removed the ring
	cur, err := m.store.Read(ctx, path)
	if err != nil || cur == nil {
		return
	}
	if cs, err := signal.Validate(cur); err != nil || cs.CallID != sig.CallID || cs.Status != signal.StatusRinging {
		return
	}

	m.mu.Lock()
	if m.closed || m.current != nil {
		// Already in a call; the caller's busy check should have caught
		// this, and replays of the same signal will keep landing here
		m.mu.Unlock()
		return
	}

	// Mark before surfacing so a second listener delivery cannot re-open
	// the prompt
	if err := m.ledger.MarkHandled(sig.CallID); err != nil {
		m.logger.Error("ledger mark failed", "call_id", sig.CallID, "error", err)
	}

	c := &call{
		role:       RoleCallee,
		callID:     sig.CallID,
		peerID:     sig.CallerID,
		peerName:   sig.CallerName,
		peerAvatar: sig.CallerAvatar,
		callType:   sig.CallType,
		phase:      PhaseRinging,
		expiresAt:  now.Add(m.opts.RingTimeout),
	}
	c.ringTimer = time.AfterFunc(m.opts.RingTimeout, func() { m.onRingTimeout(sig.CallID) })
	m.current = c
	snap := c.snapshot()
	m.mu.Unlock()

	m.logger.Info("incoming call", "call_id", sig.CallID, "caller_id", sig.CallerID, "call_type", sig.CallType)
	m.notify(snap)
}

// onOutgoing observes the caller's own outgoing slot for the callee's
// status transitions.
func (m *Manager) onOutgoing(ctx context.Context, path string, value []byte) {
	callID := signal.CallIDFromPath(path)

	if value == nil {
		// Removed before we saw a terminal status. The remover wrote that
		// status just before cleaning up, and the two events can arrive in
		// either order; give the status one grace window to land before
		// falling back to cancelled.
		m.mu.Lock()
		c := m.current
		if c == nil || c.callID != callID || c.role != RoleCaller || c.phase != PhaseRinging {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		time.AfterFunc(m.opts.AcceptGrace, func() {
			m.endIfStillRinging(callID, RoleCaller, EndCancelled)
		})
		return
	}

	sig, err := signal.Validate(value)
	if err != nil {
		m.logger.Warn("discarding invalid outgoing signal", "path", path, "error", err)
		return
	}
	if sig.CallID != callID {
		m.logger.Warn("discarding signal whose call id disagrees with its path", "path", path, "call_id", sig.CallID)
		return
	}

	switch sig.Status {
	case signal.StatusAccepted:
		m.mu.Lock()
		c := m.current
		if c == nil || c.callID != sig.CallID || c.role != RoleCaller || c.phase != PhaseRinging {
			m.mu.Unlock()
			return
		}
		if c.ringTimer != nil {
			c.ringTimer.Stop()
		}
		// The callee's accept wins on the initial media type
		c.callType = sig.CallType
		c.phase = PhaseConnecting
		peerID := c.peerID
		snap := c.snapshot()
		m.mu.Unlock()

		m.logger.Info("call accepted by peer", "call_id", sig.CallID, "call_type", sig.CallType)
		m.notify(snap)
		go m.connectMedia(sig.CallID, peerID, sig.CallType)

	case signal.StatusDeclined:
		m.mu.Lock()
		c := m.current
		if c == nil || c.callID != sig.CallID || c.role != RoleCaller || c.phase != PhaseRinging {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.logger.Info("call declined by peer", "call_id", sig.CallID)
		m.endCall(sig.CallID, EndDeclined)

	default:
		// ringing and cancelled on the outgoing slot are our own writes
	}
}

// onRingTimeout fires local auto-cancellation. Whichever side's timer
// fires first writes the terminal status; the other side's fire finds the
// machine already out of PhaseRinging and becomes a no-op.
func (m *Manager) onRingTimeout(callID string) {
	m.mu.Lock()
	c := m.current
	if c == nil || c.callID != callID || c.phase != PhaseRinging {
		m.mu.Unlock()
		return
	}
	calleeID := c.calleeID(m.identity.UserID)
	callerID := c.callerID(m.identity.UserID)
	sig := &signal.CallSignal{
		CallID:    callID,
		CallerID:  callerID,
		CallType:  c.callType,
		Timestamp: m.now().UnixMilli(),
		Status:    signal.StatusCancelled,
	}
	m.mu.Unlock()

	ctx := context.Background()
	if err := m.writeBoth(ctx, calleeID, sig); err != nil {
		m.logger.Warn("timeout cancel write failed", "call_id", callID, "error", err)
	}
	m.removeBoth(ctx, callerID, calleeID, callID)

	m.logger.Info("call timed out", "call_id", callID)
	m.endCall(callID, EndCancelled)
}

// connectMedia performs the transport handoff once both sides reached
// accepted. The room name is derived from the sorted user pair so both
// sides rendezvous without further coordination.
func (m *Manager) connectMedia(callID, peerID string, media signal.CallType) {
	roomID := signal.RoomID(m.identity.UserID, peerID)
	sess, err := m.transport.Connect(context.Background(), roomID, m.identity.UserID, media)
	if err != nil {
		m.logger.Error("transport connect failed", "call_id", callID, "room_id", roomID, "error", err)
		m.endCall(callID, EndTransportFailed)
		return
	}

	m.mu.Lock()
	c := m.current
	if c == nil || c.callID != callID || c.phase != PhaseConnecting {
		m.mu.Unlock()
		_ = sess.Disconnect()
		return
	}
	c.media = sess
	m.mu.Unlock()

	sess.On(transport.EventConnected, func() {
		m.mu.Lock()
		c := m.current
		if c == nil || c.callID != callID || c.phase != PhaseConnecting {
			m.mu.Unlock()
			return
		}
		c.phase = PhaseActive
		snap := c.snapshot()
		m.mu.Unlock()

		m.logger.Info("transport connected", "call_id", callID, "room_id", roomID)
		m.notify(snap)
	})

	sess.On(transport.EventFailed, func() {
		m.logger.Warn("transport failed", "call_id", callID, "room_id", roomID)
		_ = sess.Disconnect()
		m.endCall(callID, EndTransportFailed)
	})

	sess.On(transport.EventDisconnected, func() {
		m.mu.Lock()
		c := m.current
		if c == nil || c.callID != callID {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.endCall(callID, EndHungUp)
	})
}

// endIfStillRinging ends the call only if it has not left ringing in the
// meantime; a terminal status observed during the wait wins.
func (m *Manager) endIfStillRinging(callID string, role Role, reason EndReason) {
	m.mu.Lock()
	c := m.current
	if c == nil || c.callID != callID || c.role != role || c.phase != PhaseRinging {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.endCall(callID, reason)
}

// endCall finalizes the call if it is still current. Transitions out of
// ringing/connecting are final; later status observations for the same
// call ID find current == nil and change nothing.
func (m *Manager) endCall(callID string, reason EndReason) {
	m.mu.Lock()
	c := m.current
	if c == nil || c.callID != callID || c.phase == PhaseEnded {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(c)
	c.phase = PhaseEnded
	c.reason = reason
	media := c.media
	snap := c.snapshot()
	m.current = nil
	m.mu.Unlock()

	if media != nil {
		_ = media.Disconnect()
	}
	m.notify(snap)
}

// teardownLocked stops the timer and outgoing watch. Caller holds m.mu.
func (m *Manager) teardownLocked(c *call) {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
	if c.outgoingSub != nil {
		_ = c.outgoingSub.Unsubscribe()
		c.outgoingSub = nil
	}
}

// writeBoth writes the same signal to the callee's incoming slot and the
// caller's outgoing slot. Not atomic across the two paths; a crash between
// the writes is self-healed by the next status write or the staleness
// discard.
func (m *Manager) writeBoth(ctx context.Context, calleeID string, sig *signal.CallSignal) error {
	raw, err := signal.Encode(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	if err := m.store.Write(ctx, signal.IncomingPath(calleeID, sig.CallID), raw); err != nil {
		return fmt.Errorf("write incoming slot: %w", err)
	}
	if err := m.store.Write(ctx, signal.OutgoingPath(sig.CallerID, sig.CallID), raw); err != nil {
		return fmt.Errorf("write outgoing slot: %w", err)
	}
	return nil
}

// removeBoth clears both slots of a call. Best effort; leftovers fall to
// the staleness discard.
func (m *Manager) removeBoth(ctx context.Context, callerID, calleeID, callID string) {
	inPath := signal.IncomingPath(calleeID, callID)
	if err := m.store.Remove(ctx, inPath); err != nil && !errors.Is(err, store.ErrClosed) {
		m.logger.Warn("failed to remove incoming slot", "path", inPath, "error", err)
	}

	outPath := signal.OutgoingPath(callerID, callID)
	if err := m.store.Remove(ctx, outPath); err != nil && !errors.Is(err, store.ErrClosed) {
		m.logger.Warn("failed to remove outgoing slot", "path", outPath, "error", err)
	}
}

// notify fans a snapshot out to phase listeners
func (m *Manager) notify(change PhaseChange) {
	m.mu.Lock()
	fns := make([]func(PhaseChange), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
