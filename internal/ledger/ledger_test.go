package ledger

import (
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestMarkAndCheck(t *testing.T) {
	l, err := Open(t.TempDir(), time.Minute, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	if l.IsRecentlyHandled("alice_bob_1") {
		t.Error("unmarked call reported as handled")
	}

	if err := l.MarkHandled("alice_bob_1"); err != nil {
		t.Fatalf("MarkHandled() error = %v", err)
	}
	if !l.IsRecentlyHandled("alice_bob_1") {
		t.Error("marked call not reported as handled")
	}
	if l.IsRecentlyHandled("alice_bob_2") {
		t.Error("different call ID reported as handled")
	}
}

func TestTTLExpiry(t *testing.T) {
	l, err := Open(t.TempDir(), 5*time.Minute, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	base := time.Now()
	l.SetClock(func() time.Time { return base })

	if err := l.MarkHandled("alice_bob_1"); err != nil {
		t.Fatalf("MarkHandled() error = %v", err)
	}

	l.SetClock(func() time.Time { return base.Add(4 * time.Minute) })
	if !l.IsRecentlyHandled("alice_bob_1") {
		t.Error("entry expired before TTL")
	}

	l.SetClock(func() time.Time { return base.Add(6 * time.Minute) })
	if l.IsRecentlyHandled("alice_bob_1") {
		t.Error("entry still handled past TTL")
	}

	// Lazy prune removed the row
	n, err := l.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d after lazy prune, want 0", n)
	}
}

func TestPruneExpired(t *testing.T) {
	l, err := Open(t.TempDir(), 5*time.Minute, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	base := time.Now()
	l.SetClock(func() time.Time { return base })
	l.MarkHandled("old_1")
	l.MarkHandled("old_2")

	l.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	l.MarkHandled("fresh")

	n, err := l.PruneExpired()
	if err != nil {
		t.Fatalf("PruneExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PruneExpired() = %d, want 2", n)
	}
	if !l.IsRecentlyHandled("fresh") {
		t.Error("fresh entry swept by prune")
	}
}

func TestRemarkRefreshes(t *testing.T) {
	l, err := Open(t.TempDir(), 5*time.Minute, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	base := time.Now()
	l.SetClock(func() time.Time { return base })
	l.MarkHandled("alice_bob_1")

	l.SetClock(func() time.Time { return base.Add(4 * time.Minute) })
	l.MarkHandled("alice_bob_1")

	// 6 minutes after the first mark but only 2 after the refresh
	l.SetClock(func() time.Time { return base.Add(6 * time.Minute) })
	if !l.IsRecentlyHandled("alice_bob_1") {
		t.Error("re-mark did not refresh the entry")
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	l.MarkHandled("alice_bob_1")
	l.Close()

	l2, err := Open(dir, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l2.Close()

	if l2.WasReset() {
		t.Error("same-version reopen must not report a reset")
	}
	if !l2.IsRecentlyHandled("alice_bob_1") {
		t.Error("entry lost across reopen")
	}
}

func TestVersionMismatchWipes(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	l.MarkHandled("alice_bob_1")
	l.Close()

	// Rewrite the version marker as an older release would have left it
	db, err := sql.Open("sqlite", filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec(`UPDATE _meta SET value = 'v0' WHERE key = 'version'`); err != nil {
		t.Fatalf("downgrade version: %v", err)
	}
	db.Close()

	l2, err := Open(dir, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l2.Close()

	if !l2.WasReset() {
		t.Error("version mismatch must report a reset")
	}
	if l2.IsRecentlyHandled("alice_bob_1") {
		t.Error("entries must be discarded on version mismatch")
	}
}
