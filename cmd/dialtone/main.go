package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/observer/dialtone/internal/calllog"
	"github.com/observer/dialtone/internal/config"
	"github.com/observer/dialtone/internal/ledger"
	"github.com/observer/dialtone/internal/runtime"
	"github.com/observer/dialtone/internal/session"
	sig "github.com/observer/dialtone/internal/signal"
	"github.com/observer/dialtone/internal/store"
	"github.com/observer/dialtone/internal/transport"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Signal store backend
	var st store.Store
	switch cfg.StoreBackend {
	case "redis":
		st, err = store.NewRedisStore(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to redis signal store")
	default:
		st = store.NewMemoryStore()
		slog.Warn("using in-memory signal store - calls only reach peers in this process")
	}
	defer st.Close()

	// Handled-call ledger
	led, err := ledger.Open(cfg.LedgerDir, cfg.LedgerTTL, logger)
	if err != nil {
		slog.Error("failed to open handled-call ledger", "error", err)
		os.Exit(1)
	}
	defer led.Close()

	// Room token service (use a default key for dev if not set)
	tokenKey := cfg.RoomTokenKey
	if tokenKey == "" {
		if cfg.IsDevelopment() {
			tokenKey = "dev-signing-key-do-not-use-in-production!!" // 44 chars
			slog.Warn("using default room token key - DO NOT USE IN PRODUCTION")
		} else {
			slog.Error("ROOM_TOKEN_KEY is required in production")
			os.Exit(1)
		}
	}
	tokens, err := transport.NewRoomTokenService(tokenKey)
	if err != nil {
		slog.Error("failed to create room token service", "error", err)
		os.Exit(1)
	}

	// SFU client transport
	iceServers := make([]webrtc.ICEServer, 0, 2)
	if len(cfg.ICESTUNURLs) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.ICESTUNURLs})
	}
	if len(cfg.ICETURNURLs) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       cfg.ICETURNURLs,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}
	tr := transport.NewSFUTransport(&transport.SFUConfig{
		URL:        cfg.SFUURL,
		ICEServers: iceServers,
	}, tokens, logger)

	// Signaling runtime for this identity
	identity := session.Identity{
		UserID:    cfg.UserID,
		Name:      cfg.DisplayName,
		AvatarURL: cfg.AvatarURL,
	}
	rt := runtime.New(identity, st, led, tr, session.Options{
		RingTimeout:    cfg.RingTimeout,
		AcceptGrace:    cfg.AcceptGrace,
		CallsPerMinute: cfg.CallsPerMinute,
	}, logger)

	// Call history is optional
	if cfg.DatabaseURL != "" {
		db, err := calllog.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure call history schema", "error", err)
			os.Exit(1)
		}
		rt.SetCallLog(calllog.NewRepository(db))
		slog.Info("call history recording enabled")
	}

	rt.SetNoticeFunc(func(n runtime.Notice) {
		slog.Warn("connectivity notice", "kind", n.Kind, "message", n.Message)
	})

	mgr := rt.Session()
	unsubscribe := mgr.SubscribePhase(func(change session.PhaseChange) {
		logger.Info("call phase changed",
			"call_id", change.CallID,
			"phase", change.Phase,
			"role", change.Role,
			"peer_id", change.PeerID,
			"reason", change.Reason,
		)

		// Headless agents can pick up immediately
		if cfg.AutoAnswer && change.Phase == session.PhaseRinging && change.Role == session.RoleCallee {
			go func() {
				answerCtx, answerCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer answerCancel()
				if err := mgr.Accept(answerCtx, sig.CallType("")); err != nil {
					slog.Error("auto-answer failed", "call_id", change.CallID, "error", err)
				}
			}()
		}
	})
	defer unsubscribe()

	if err := rt.Init(context.Background()); err != nil {
		slog.Error("failed to initialize signaling runtime", "error", err)
		os.Exit(1)
	}
	slog.Info("dialtone agent ready", "user_id", cfg.UserID, "store", cfg.StoreBackend, "auto_answer", cfg.AutoAnswer)

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// End any live call before tearing the runtime down
	if mgr.Phase() != session.PhaseIdle {
		hangupCtx, hangupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mgr.HangUp(hangupCtx); err != nil {
			slog.Warn("hangup on shutdown failed", "error", err)
		}
		hangupCancel()
	}

	rt.Dispose()
	slog.Info("agent stopped")
}
