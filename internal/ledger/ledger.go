// Package ledger keeps a TTL-bounded durable record of call IDs that were
// already surfaced, so at-least-once store delivery (listener reattachment,
// reconnect replay, multiple tabs) never re-opens an incoming-call prompt.
//
// The record survives restarts in a local SQLite file. It is tagged with a
// protocol version; on mismatch the whole ledger is discarded, as correctness
// favors forgetting over misinterpreting entries written by an older schema.
package ledger

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Version tags persisted entries. Bump when the signal shape changes.
const Version = "v1"

// DefaultTTL is how long a handled call ID stays suppressed.
const DefaultTTL = 5 * time.Minute

// Ledger is the handled-call record. Safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	db     *sql.DB
	ttl    time.Duration
	reset  bool
	logger *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// Open opens or creates the ledger database in the given directory.
// If the persisted version differs from Version, all entries are dropped
// and WasReset reports true so the caller can also clear stale store state.
func Open(dir string, ttl time.Duration, logger *slog.Logger) (*Ledger, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure ledger: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
		CREATE TABLE IF NOT EXISTS handled_calls (
			call_id       TEXT PRIMARY KEY,
			first_seen_ms INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}

	l := &Ledger{
		db:     db,
		ttl:    ttl,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}

	if err := l.checkVersion(); err != nil {
		db.Close()
		return nil, err
	}

	if n, err := l.PruneExpired(); err == nil && n > 0 {
		l.logger.Debug("pruned expired entries on load", "count", n)
	}

	return l, nil
}

// checkVersion compares the persisted version marker against Version and
// wipes the ledger on mismatch.
func (l *Ledger) checkVersion() error {
	var stored string
	err := l.db.QueryRow(`SELECT value FROM _meta WHERE key = 'version'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		stored = ""
	case err != nil:
		return fmt.Errorf("read ledger version: %w", err)
	}

	if stored == Version {
		return nil
	}

	if stored != "" {
		l.logger.Warn("ledger version mismatch, discarding entries", "stored", stored, "current", Version)
	}
	if _, err := l.db.Exec(`DELETE FROM handled_calls`); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	if _, err := l.db.Exec(
		`INSERT INTO _meta (key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, Version,
	); err != nil {
		return fmt.Errorf("write ledger version: %w", err)
	}

	l.reset = stored != ""
	return nil
}

// WasReset reports whether Open discarded a previous-version ledger. The
// runtime uses this to also clear any stale signals still parked under the
// user's store paths.
func (l *Ledger) WasReset() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reset
}

// MarkHandled records the call ID against the current time. Re-marking an
// existing entry refreshes it.
func (l *Ledger) MarkHandled(callID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(
		`INSERT INTO handled_calls (call_id, first_seen_ms) VALUES (?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET first_seen_ms = excluded.first_seen_ms`,
		callID, l.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("mark handled: %w", err)
	}
	return nil
}

// IsRecentlyHandled reports whether the call ID was marked within the TTL.
// Expired entries are lazily pruned on read.
func (l *Ledger) IsRecentlyHandled(callID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstSeen int64
	err := l.db.QueryRow(
		`SELECT first_seen_ms FROM handled_calls WHERE call_id = ?`, callID,
	).Scan(&firstSeen)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		l.logger.Error("ledger read failed", "error", err, "call_id", callID)
		return false
	}

	if l.now().Sub(time.UnixMilli(firstSeen)) > l.ttl {
		if _, err := l.db.Exec(`DELETE FROM handled_calls WHERE call_id = ?`, callID); err != nil {
			l.logger.Error("ledger lazy prune failed", "error", err, "call_id", callID)
		}
		return false
	}
	return true
}

// PruneExpired sweeps all entries past the TTL and returns how many were
// removed. Called on load and periodically by the runtime.
func (l *Ledger) PruneExpired() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl).UnixMilli()
	res, err := l.db.Exec(`DELETE FROM handled_calls WHERE first_seen_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of live entries (useful for testing)
func (l *Ledger) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM handled_calls`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetClock overrides the time source (useful for testing)
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
