// Package store is the durable backing store for runs, steps, audit
// events, provider quotas, session budgets, router model profiles, and
// routing decisions. Grounded on the teacher's internal/storage.SQLiteStore
// (WAL mode, modernc.org/sqlite driver), generalized from a single
// generic key/value table to the domain-specific schema this module
// needs, queried through jmoiron/sqlx instead of raw database/sql, and
// migrated with pressly/goose instead of an inline CREATE TABLE string.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/loomwork/loomwork/internal/errs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the single-writer SQLite-backed durable store. One process
// owns the store at a time; concurrent ownership is enforced upstream
// by an OS-level lockfile (see internal/lockfile), not by this package.
type Store struct {
	mu sync.RWMutex
	db *sqlx.DB

	checkpointInterval time.Duration
	busyTimeout        time.Duration
	stopCheckpoint     chan struct{}
	checkpointWG       sync.WaitGroup
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithCheckpointInterval overrides the default WAL checkpoint-and-truncate
// period (0 disables the background checkpointer).
func WithCheckpointInterval(d time.Duration) Option {
	return func(s *Store) { s.checkpointInterval = d }
}

// WithBusyTimeout overrides the SQLite busy_timeout pragma.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// Open opens (creating if necessary) the SQLite database at path,
// enables WAL mode, applies pending goose migrations, and starts the
// background checkpoint-and-truncate loop.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.KindState, "open sqlite store", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindState, "enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindState, "enable foreign keys", err)
	}

	s := &Store{
		db:                 db,
		checkpointInterval: 10 * time.Minute,
		busyTimeout:        5 * time.Second,
		stopCheckpoint:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", s.busyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindState, "set busy timeout", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindInternal, "set goose dialect", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindState, "apply migrations", err)
	}

	if s.checkpointInterval > 0 {
		s.checkpointWG.Add(1)
		go s.checkpointLoop()
	}

	return s, nil
}

func (s *Store) checkpointLoop() {
	defer s.checkpointWG.Done()
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			s.mu.Unlock()
		case <-s.stopCheckpoint:
			return
		}
	}
}

// Close disarms the background checkpointer, performs a final checkpoint,
// and closes the underlying connection.
func (s *Store) Close() error {
	close(s.stopCheckpoint)
	s.checkpointWG.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// withBusyRetry retries fn while SQLITE_BUSY is returned, up to a 5 second
// ceiling, backing off linearly in 50ms steps.
func withBusyRetry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := fn()
		if err == nil || !isBusy(err) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func isBusy(err error) bool {
	return err != nil && (containsAny(err.Error(), "database is locked", "SQLITE_BUSY"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// Transaction runs fn inside a SQL transaction, committing on nil return
// and rolling back otherwise. Retries on SQLITE_BUSY per withBusyRetry.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return errs.Wrap(errs.KindState, "begin transaction", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return errs.Wrap(errs.KindState, "commit transaction", err)
		}
		return nil
	})
}

// Savepoint establishes a named savepoint within tx and runs fn, releasing
// it on success or rolling back to it on error, so a failing part of a
// transaction can be undone without losing the rest of it.
func Savepoint(ctx context.Context, tx *sqlx.Tx, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return errs.Wrap(errs.KindState, "create savepoint", err)
	}
	if err := fn(); err != nil {
		tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return errs.Wrap(errs.KindState, "release savepoint", err)
	}
	return nil
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "marshal json column", err)
	}
	return string(b), nil
}

func nullableString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}
