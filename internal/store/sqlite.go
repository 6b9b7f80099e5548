package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS incidents (
		error_id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		command TEXT NOT NULL,
		cause TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertIncident records an incident, retrying on SQLITE_BUSY.
func (s *SQLiteStore) InsertIncident(ctx context.Context, inc *domain.Incident) error {
	if inc == nil || inc.ErrorID == "" {
		return errors.New("insert incident: missing error id")
	}
	return shared.RetryOnSQLiteConflict(ctx, 3, 50*time.Millisecond, func() error {
		return s.insertIncidentOnce(ctx, inc)
	})
}

func (s *SQLiteStore) insertIncidentOnce(ctx context.Context, inc *domain.Incident) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO incidents (error_id, chat_id, command, cause, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(error_id) DO NOTHING`

	createdAt := inc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		inc.ErrorID, inc.ChatID, inc.Command, inc.Cause, createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by its error ID.
func (s *SQLiteStore) GetIncident(ctx context.Context, errorID string) (*domain.Incident, error) {
	query := `
		SELECT error_id, chat_id, command, cause, created_at
		FROM incidents WHERE error_id = ?`

	var inc domain.Incident
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, errorID).Scan(
		&inc.ErrorID, &inc.ChatID, &inc.Command, &inc.Cause, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan incident row: %w", err)
	}
	inc.CreatedAt = time.UnixMilli(createdAt)
	return &inc, nil
}

// CleanupIncidents removes incidents older than ttl.
func (s *SQLiteStore) CleanupIncidents(ctx context.Context, ttl time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-ttl).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup incidents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if n > 0 {
		slog.Debug("incidents removed", "count", n, "ttl", ttl)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
