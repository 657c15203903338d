// Package ringtone binds a sound output to the session state machine's
// phase changes, replacing ad-hoc broadcast events with an explicit
// subscription: ringing as callee plays the incoming ring, ringing as
// caller plays the outgoing ring, any other phase stops playback.
package ringtone

import (
	"log/slog"
	"sync"

	"github.com/observer/dialtone/internal/session"
)

// Sound is the audio output capability. The actual device lives outside
// this module.
type Sound interface {
	PlayIncoming()
	PlayOutgoing()
	Stop()
}

// Player drives a Sound from session phase changes.
type Player struct {
	sound  Sound
	logger *slog.Logger

	mu      sync.Mutex
	playing bool
}

// NewPlayer creates a ringtone player
func NewPlayer(sound Sound, logger *slog.Logger) *Player {
	return &Player{
		sound:  sound,
		logger: logger.With("component", "ringtone"),
	}
}

// Attach subscribes the player to the manager's phase changes and returns
// the unsubscribe function.
func (p *Player) Attach(m *session.Manager) func() {
	return m.SubscribePhase(p.onPhaseChange)
}

func (p *Player) onPhaseChange(change session.PhaseChange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if change.Phase == session.PhaseRinging {
		if p.playing {
			return
		}
		p.playing = true
		if change.Role == session.RoleCallee {
			p.sound.PlayIncoming()
		} else {
			p.sound.PlayOutgoing()
		}
		return
	}

	if p.playing {
		p.playing = false
		p.sound.Stop()
	}
}
