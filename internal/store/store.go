// Package store owns all persisted state: messages, API tokens, rate-limit
// windows and the audit trail, kept in one embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// Serializes the claim and rate-limit critical sections. SQLite already
	// has a single writer; the mutex keeps BUSY errors out of those paths.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database at path. WAL keeps readers
// off the writer's back; busy_timeout covers the remaining contention.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_journal_mode": {"WAL"},
		"_busy_timeout": {"5000"},
		"_foreign_keys": {"on"},
		"_loc":          {"UTC"},
	}.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) RunMigrations(migrationsPath string) error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecoverStartup resets rows a previous process left mid-flight: orphaned
// claims drop back to their pre-claim state, and SENDING rows (the send may
// or may not have happened; the caller never saw an outcome) become
// SCHEDULED at now without touching retry_count. Returns the ids of the
// recovered SENDING rows so the caller can audit them.
func (s *Store) RecoverStartup(ctx context.Context, now time.Time) ([]int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin recovery: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET status = CASE WHEN scheduled_at IS NULL THEN 'QUEUED' ELSE 'SCHEDULED' END
		WHERE status = 'CLAIMED'`); err != nil {
		return nil, fmt.Errorf("failed to release orphaned claims: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM messages WHERE status = 'SENDING'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight rows: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET status = 'SCHEDULED', scheduled_at = ?, cancel_requested = 0
			WHERE status = 'SENDING'`, now.UTC()); err != nil {
			return nil, fmt.Errorf("failed to recover in-flight rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit recovery: %w", err)
	}

	if len(ids) > 0 {
		s.logger.Warn("recovered in-flight messages from previous run", zap.Int64s("ids", ids))
	}
	return ids, nil
}
