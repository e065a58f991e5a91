package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		language_code TEXT NOT NULL DEFAULT '',
		last_request_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_user_created ON artifacts(user_id, created_at DESC);
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

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	query := `
		SELECT user_id, username, first_name, last_name, language_code,
		       last_request_json, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastRequest sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Username, &user.FirstName, &user.LastName,
		&user.LanguageCode, &lastRequest, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	if lastRequest.Valid && lastRequest.String != "" {
		var req domain.LessonRequest
		if err := json.Unmarshal([]byte(lastRequest.String), &req); err != nil {
			slog.Warn("Discarding unreadable last request", "user_id", userID, "error", err)
		} else {
			user.LastRequest = &req
		}
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// CreateUser inserts a user record if it does not exist yet.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) (bool, error) {
	query := `
	INSERT INTO users (user_id, username, first_name, last_name, language_code, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`

	now := time.Now()
	var created bool
	err := withRetry(ctx, "create user", func() error {
		result, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.FirstName, user.LastName,
			user.LanguageCode, now.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		created = rows > 0
		return nil
	})
	return created, err
}

// UpdateLanguage sets the stored language tag for a user.
func (s *SQLiteStore) UpdateLanguage(ctx context.Context, userID int64, lang domain.Language) error {
	query := `UPDATE users SET language_code = ?, updated_at = ? WHERE user_id = ?`
	return s.updateUser(ctx, "update language", query, string(lang), time.Now().Unix(), userID)
}

// SaveLastRequest stores or clears the pending lesson draft.
func (s *SQLiteStore) SaveLastRequest(ctx context.Context, userID int64, req *domain.LessonRequest) error {
	var payload interface{}
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode last request: %w", err)
		}
		payload = string(data)
	}

	query := `UPDATE users SET last_request_json = ?, updated_at = ? WHERE user_id = ?`
	return s.updateUser(ctx, "save last request", query, payload, time.Now().Unix(), userID)
}

func (s *SQLiteStore) updateUser(ctx context.Context, op, query string, args ...interface{}) error {
	return withRetry(ctx, op, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrUserNotFound
		}
		return nil
	})
}

// AddArtifact indexes a generated document for a user.
func (s *SQLiteStore) AddArtifact(ctx context.Context, userID int64, artifact domain.Artifact) error {
	query := `
	INSERT INTO artifacts (user_id, name, created_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id, name) DO UPDATE SET created_at = excluded.created_at`

	return withRetry(ctx, "add artifact", func() error {
		if _, err := s.db.ExecContext(ctx, query, userID, artifact.Name, artifact.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
		return nil
	})
}

// ListArtifacts returns every indexed document for a user, newest first.
// Equal timestamps are ordered by name so repeated listings agree.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, userID int64) ([]domain.Artifact, error) {
	query := `
		SELECT name, created_at FROM artifacts
		WHERE user_id = ?
		ORDER BY created_at DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close artifact rows", "error", closeErr)
		}
	}()

	artifacts := []domain.Artifact{}
	for rows.Next() {
		var a domain.Artifact
		var createdAt int64
		if err := rows.Scan(&a.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		a.CreatedAt = time.Unix(0, createdAt)
		artifacts = append(artifacts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	return artifacts, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn with exponential backoff while SQLite reports lock contention.
func withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err)
}
