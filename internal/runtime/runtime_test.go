package runtime

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/observer/dialtone/internal/calllog"
	"github.com/observer/dialtone/internal/ledger"
	"github.com/observer/dialtone/internal/session"
	"github.com/observer/dialtone/internal/signal"
	"github.com/observer/dialtone/internal/store"
	"github.com/observer/dialtone/internal/transport"
)

type noopTransport struct{}

func (noopTransport) Connect(context.Context, string, string, signal.CallType) (transport.Session, error) {
	return nil, transport.ErrFailed
}

// resetLedger produces a ledger that reports WasReset, the way a version
// bump across a restart would.
func resetLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	dir := t.TempDir()

	l, err := ledger.Open(dir, time.Minute, slog.Default())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	l.MarkHandled("old_call")
	l.Close()

	db, err := sql.Open("sqlite", filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec(`UPDATE _meta SET value = 'v0' WHERE key = 'version'`); err != nil {
		t.Fatalf("downgrade version: %v", err)
	}
	db.Close()

	l, err = ledger.Open(dir, time.Minute, slog.Default())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	if !l.WasReset() {
		t.Fatal("ledger did not report a reset")
	}
	return l
}

func TestInitClearsOwnBranchesAfterLedgerReset(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	// Stale signals parked under bob's branches, plus an entry belonging
	// to someone else that must survive
	raw, _ := signal.Encode(&signal.CallSignal{
		CallID:    "alice_bob_1",
		CallerID:  "alice",
		CallType:  signal.CallTypeAudio,
		Timestamp: time.Now().UnixMilli(),
		Status:    signal.StatusRinging,
	})
	st.Write(ctx, signal.IncomingPath("bob", "alice_bob_1"), raw)
	st.Write(ctx, signal.OutgoingPath("bob", "bob_carol_2"), raw)
	st.Write(ctx, signal.IncomingPath("carol", "dave_carol_3"), raw)

	rt := New(session.Identity{UserID: "bob"}, st, resetLedger(t), noopTransport{}, session.Options{}, slog.Default())
	if err := rt.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer rt.Dispose()

	entries, err := st.List(ctx, signal.IncomingRoot("bob"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("bob incoming branch not cleared: %v", entries)
	}
	entries, _ = st.List(ctx, signal.OutgoingRoot("bob"))
	if len(entries) != 0 {
		t.Errorf("bob outgoing branch not cleared: %v", entries)
	}

	// Other users' branches are untouched
	entries, _ = st.List(ctx, signal.IncomingRoot("carol"))
	if len(entries) != 1 {
		t.Errorf("carol incoming branch disturbed: %v", entries)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	led, err := ledger.Open(t.TempDir(), time.Minute, slog.Default())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer led.Close()

	rt := New(session.Identity{UserID: "bob"}, st, led, noopTransport{}, session.Options{}, slog.Default())
	if err := rt.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	rt.Dispose()
	rt.Dispose()
}

func TestOutcomeMapping(t *testing.T) {
	tests := []struct {
		name      string
		change    session.PhaseChange
		wasActive bool
		want      calllog.Outcome
	}{
		{"declined", session.PhaseChange{Reason: session.EndDeclined}, false, calllog.OutcomeDeclined},
		{"caller cancelled", session.PhaseChange{Reason: session.EndCancelled, Role: session.RoleCaller}, false, calllog.OutcomeCancelled},
		{"callee missed", session.PhaseChange{Reason: session.EndCancelled, Role: session.RoleCallee}, false, calllog.OutcomeMissed},
		{"transport failed", session.PhaseChange{Reason: session.EndTransportFailed}, false, calllog.OutcomeFailed},
		{"answered then hung up", session.PhaseChange{Reason: session.EndHungUp}, true, calllog.OutcomeAnswered},
		{"hung up before active", session.PhaseChange{Reason: session.EndHungUp}, false, calllog.OutcomeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outcomeOf(tt.change, tt.wasActive); got != tt.want {
				t.Errorf("outcomeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}
