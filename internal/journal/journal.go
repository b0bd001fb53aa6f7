package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"echorelay/pkg/types"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

// SQLite is a presence journal backed by a SQLite file. All writes go
// through a single writer goroutine; reads run on the pool concurrently.
type SQLite struct {
	db     *sql.DB
	config Config

	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// writeOp is either a presence event to insert or a function to run on
// the writer. result is nil for events.
type writeOp struct {
	event  *types.PresenceEvent
	fn     func(*sql.DB) error
	result chan error
}

// Open creates the database file if needed, applies migrations and
// starts the writer.
func Open(cfg Config) (*SQLite, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := applyMigrations(db, migrationFiles); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &SQLite{
		db:       db,
		config:   cfg,
		writeCh:  make(chan writeOp, cfg.QueueSize),
		shutdown: make(chan struct{}),
	}

	j.wg.Add(1)
	go j.writeLoop()

	logrus.WithFields(logrus.Fields{
		"function": "journal.Open",
		"path":     cfg.Path,
	}).Info("Presence journal opened")

	return j, nil
}

func (j *SQLite) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case op := <-j.writeCh:
			j.apply(op)
		case <-j.shutdown:
			// Drain what was accepted before Close.
			for {
				select {
				case op := <-j.writeCh:
					j.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (j *SQLite) apply(op writeOp) {
	if op.event != nil {
		if err := j.insert(op.event); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SQLite.writeLoop",
				"event_id": op.event.ID,
				"error":    err.Error(),
			}).Warn("Failed to record presence event")
		}
		return
	}
	op.result <- op.fn(j.db)
}

func (j *SQLite) insert(ev *types.PresenceEvent) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO presence_events (id, connection_id, kind, identity, remote_key, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ConnectionID, ev.Kind, ev.Identity, ev.RemoteKey, ev.At.UTC())
	return err
}

// Record queues ev for insertion without blocking. When the queue is full
// the event is dropped and counted.
func (j *SQLite) Record(ev types.PresenceEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.writeCh <- writeOp{event: &ev}:
	default:
		if j.dropped.Add(1) == 1 {
			logrus.WithFields(logrus.Fields{
				"function":   "SQLite.Record",
				"queue_size": j.config.QueueSize,
			}).Warn("Journal queue full, dropping presence events")
		}
	}
}

// executeWrite runs fn on the writer and waits for its result.
func (j *SQLite) executeWrite(ctx context.Context, fn func(*sql.DB) error) error {
	result := make(chan error, 1)

	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	select {
	case j.writeCh <- writeOp{fn: fn, result: result}:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	return <-result
}

// Flush waits until every event queued before the call has been written.
func (j *SQLite) Flush(ctx context.Context) error {
	return j.executeWrite(ctx, func(*sql.DB) error { return nil })
}

// Recent returns up to limit events, newest first. A non-positive limit
// selects the default; limits above the maximum are clamped.
func (j *SQLite) Recent(ctx context.Context, limit int) ([]*types.PresenceEvent, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, connection_id, kind, identity, remote_key, at
		FROM presence_events
		ORDER BY at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*types.PresenceEvent, 0, limit)
	for rows.Next() {
		var ev types.PresenceEvent
		if err := rows.Scan(&ev.ID, &ev.ConnectionID, &ev.Kind, &ev.Identity, &ev.RemoteKey, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan presence event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presence events: %w", err)
	}
	return events, nil
}

// Prune deletes events recorded before the cutoff and returns how many
// were removed.
func (j *SQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := j.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "DELETE FROM presence_events WHERE at < ?", before.UTC())
		if err != nil {
			return fmt.Errorf("failed to prune presence events: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Retention is the configured age after which events are pruned.
func (j *SQLite) Retention() time.Duration {
	return j.config.Retention
}

// Dropped returns the number of events discarded because the queue was full.
func (j *SQLite) Dropped() int64 {
	return j.dropped.Load()
}

// HealthCheck validates connectivity and that the schema is readable.
func (j *SQLite) HealthCheck(ctx context.Context) error {
	if err := j.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal ping failed: %w", err)
	}
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM presence_events").Scan(&n); err != nil {
		return fmt.Errorf("journal read test failed: %w", err)
	}
	return nil
}

// Close flushes queued events and closes the database. It is idempotent.
func (j *SQLite) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdown)
	j.wg.Wait()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}
