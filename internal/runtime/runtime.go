// Package runtime owns the process-wide signaling lifecycle: Init on auth,
// Dispose on sign-out. It wires the store, ledger, session manager,
// ringtone, and optional call history together explicitly instead of
// through ambient global state.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/observer/dialtone/internal/calllog"
	"github.com/observer/dialtone/internal/ledger"
	"github.com/observer/dialtone/internal/ringtone"
	"github.com/observer/dialtone/internal/session"
	"github.com/observer/dialtone/internal/signal"
	"github.com/observer/dialtone/internal/store"
	"github.com/observer/dialtone/internal/transport"
)

const (
	pruneInterval  = time.Minute
	pingInterval   = 15 * time.Second
	pingRetries    = 5
	pingBackoffMin = time.Second
)

// NoticeKind classifies user-facing connectivity notices.
type NoticeKind string

const (
	NoticeSignalingOffline NoticeKind = "signaling_offline"
	NoticeSignalingOnline  NoticeKind = "signaling_online"
	NoticeSignalingLost    NoticeKind = "signaling_lost"
)

// Notice is a non-fatal condition the user should know about.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// Runtime is the signaling context for one signed-in identity.
type Runtime struct {
	identity session.Identity
	store    store.Store
	ledger   *ledger.Ledger
	manager  *session.Manager
	logger   *slog.Logger

	mu          sync.Mutex
	records     *calllog.Repository
	noticeFunc  func(Notice)
	ringtone    *ringtone.Player
	unsubscribe []func()
	cancel      context.CancelFunc
	initialized bool

	// per-call bookkeeping for the history log
	activeSince map[string]time.Time
}

// New creates a runtime for the identity. Init must be called before the
// session manager observes anything.
func New(id session.Identity, st store.Store, led *ledger.Ledger, tr transport.Transport, opts session.Options, logger *slog.Logger) *Runtime {
	return &Runtime{
		identity:    id,
		store:       st,
		ledger:      led,
		manager:     session.NewManager(id, st, led, tr, opts, logger),
		logger:      logger.With("component", "runtime"),
		activeSince: make(map[string]time.Time),
	}
}

// Session returns the session manager for call operations.
func (r *Runtime) Session() *session.Manager {
	return r.manager
}

// SetCallLog enables call history recording. Call before Init.
func (r *Runtime) SetCallLog(repo *calllog.Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = repo
}

// SetNoticeFunc sets the sink for connectivity notices. Call before Init.
func (r *Runtime) SetNoticeFunc(fn func(Notice)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noticeFunc = fn
}

// SetRingtone binds a sound output to phase changes. Call before Init.
func (r *Runtime) SetRingtone(sound ringtone.Sound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ringtone = ringtone.NewPlayer(sound, r.logger)
}

// Init starts the signaling runtime: clears stale state if the ledger was
// version-reset, starts the session manager, and launches the background
// prune and connectivity loops.
func (r *Runtime) Init(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = true
	r.mu.Unlock()

	if r.ledger.WasReset() {
		// A version bump means old signals may no longer parse; forget
		// them rather than misinterpret them
		r.clearOwnBranches(ctx)
	}

	if err := r.manager.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.ringtone != nil {
		r.unsubscribe = append(r.unsubscribe, r.ringtone.Attach(r.manager))
	}
	if r.records != nil {
		r.unsubscribe = append(r.unsubscribe, r.manager.SubscribePhase(r.recordPhase))
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	go r.pruneLoop(loopCtx)
	go r.connectivityLoop(loopCtx)

	r.logger.Info("signaling runtime initialized", "user_id", r.identity.UserID)
	return nil
}

// Dispose shuts the runtime down. Safe to call more than once.
func (r *Runtime) Dispose() {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return
	}
	r.initialized = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	subs := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	_ = r.manager.Close()
	r.logger.Info("signaling runtime disposed", "user_id", r.identity.UserID)
}

// clearOwnBranches removes every entry under the user's incoming and
// outgoing paths.
func (r *Runtime) clearOwnBranches(ctx context.Context) {
	for _, root := range []string{
		signal.IncomingRoot(r.identity.UserID),
		signal.OutgoingRoot(r.identity.UserID),
	} {
		entries, err := r.store.List(ctx, root)
		if err != nil {
			r.logger.Warn("failed to list stale branch", "path", root, "error", err)
			continue
		}
		for path := range entries {
			if err := r.store.Remove(ctx, path); err != nil {
				r.logger.Warn("failed to remove stale entry", "path", path, "error", err)
			}
		}
		if len(entries) > 0 {
			r.logger.Info("cleared stale signals after ledger reset", "path", root, "count", len(entries))
		}
	}
}

// pruneLoop periodically sweeps expired ledger entries
func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.ledger.PruneExpired(); err != nil {
				r.logger.Error("ledger prune failed", "error", err)
			} else if n > 0 {
				r.logger.Debug("pruned ledger entries", "count", n)
			}
		}
	}
}

// connectivityLoop watches store reachability. On failure it retries with
// bounded backoff; exhausting the budget produces a terminal lost notice
// instead of retrying forever.
func (r *Runtime) connectivityLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Ping(ctx); err == nil {
				continue
			}

			r.notify(Notice{Kind: NoticeSignalingOffline, Message: "signaling connection lost, reconnecting"})
			if r.reconnect(ctx) {
				r.notify(Notice{Kind: NoticeSignalingOnline, Message: "signaling connection restored"})
				continue
			}

			r.notify(Notice{Kind: NoticeSignalingLost, Message: "signaling offline"})
			r.logger.Error("store unreachable, giving up", "retries", pingRetries)
			return
		}
	}
}

// reconnect pings with doubling backoff up to the retry budget
func (r *Runtime) reconnect(ctx context.Context) bool {
	backoff := pingBackoffMin
	for attempt := 1; attempt <= pingRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		if err := r.store.Ping(ctx); err == nil {
			r.logger.Info("store connectivity restored", "attempt", attempt)
			return true
		}
		r.logger.Warn("store still unreachable", "attempt", attempt, "backoff", backoff)
		backoff *= 2
	}
	return false
}

func (r *Runtime) notify(n Notice) {
	r.mu.Lock()
	fn := r.noticeFunc
	r.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// recordPhase writes call history rows on terminal transitions.
func (r *Runtime) recordPhase(change session.PhaseChange) {
	switch change.Phase {
	case session.PhaseActive:
		r.mu.Lock()
		r.activeSince[change.CallID] = time.Now()
		r.mu.Unlock()
		return
	case session.PhaseEnded:
	default:
		return
	}

	r.mu.Lock()
	repo := r.records
	startedAt, wasActive := r.activeSince[change.CallID]
	delete(r.activeSince, change.CallID)
	r.mu.Unlock()

	if repo == nil {
		return
	}

	callerID, calleeID := change.PeerID, r.identity.UserID
	if change.Role == session.RoleCaller {
		callerID, calleeID = r.identity.UserID, change.PeerID
	}

	now := time.Now()
	rec := &calllog.Record{
		CallID:   change.CallID,
		CallerID: callerID,
		CalleeID: calleeID,
		CallType: string(change.CallType),
		Outcome:  outcomeOf(change, wasActive),
		EndedAt:  &now,
	}
	if wasActive {
		rec.StartedAt = &startedAt
		rec.DurationSeconds = int(now.Sub(startedAt).Seconds())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.Record(ctx, rec); err != nil {
		r.logger.Error("failed to record call history", "call_id", change.CallID, "error", err)
	}
}

func outcomeOf(change session.PhaseChange, wasActive bool) calllog.Outcome {
	switch change.Reason {
	case session.EndDeclined:
		return calllog.OutcomeDeclined
	case session.EndCancelled:
		if change.Role == session.RoleCallee {
			return calllog.OutcomeMissed
		}
		return calllog.OutcomeCancelled
	case session.EndTransportFailed:
		return calllog.OutcomeFailed
	default:
		if wasActive {
			return calllog.OutcomeAnswered
		}
		return calllog.OutcomeCancelled
	}
}
