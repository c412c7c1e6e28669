package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. Pragmas are applied
	// to every pooled connection.
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
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_tokens_expires ON auth_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS interviews (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		job_role TEXT NOT NULL,
		interview_name TEXT,
		level TEXT,
		confidence_json TEXT NOT NULL,
		answers_json TEXT NOT NULL,
		overall_confidence REAL NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interviews_user ON interviews(user_id, timestamp_ms);
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

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, email, password_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	err := shared.RetryOnConflict(ctx, "create user", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, normalizeEmail(user.Email), user.PasswordHash,
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if shared.IsSQLiteUniqueError(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, `SELECT user_id, email, password_hash, created_at, updated_at FROM users WHERE user_id = ?`, userID)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `SELECT user_id, email, password_hash, created_at, updated_at FROM users WHERE email = ?`, normalizeEmail(email))
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, query, arg)

	var user domain.User
	var createdAt, updatedAt int64
	err := row.Scan(&user.UserID, &user.Email, &user.PasswordHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// CreateAuthToken stores an issued bearer token.
func (s *SQLiteStore) CreateAuthToken(ctx context.Context, token *domain.AuthToken) error {
	query := `INSERT INTO auth_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`
	err := shared.RetryOnConflict(ctx, "create auth token", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			token.Token, token.UserID, token.CreatedAt.Unix(), token.ExpiresAt.Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("create auth token: %w", err)
	}
	return nil
}

// ResolveAuthToken looks up a bearer token.
func (s *SQLiteStore) ResolveAuthToken(ctx context.Context, token string) (*domain.AuthToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM auth_tokens WHERE token = ?`, token)

	var at domain.AuthToken
	var createdAt, expiresAt int64
	err := row.Scan(&at.Token, &at.UserID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth token: %w", err)
	}
	at.CreatedAt = time.Unix(createdAt, 0)
	at.ExpiresAt = time.Unix(expiresAt, 0)
	return &at, nil
}

// DeleteAuthToken revokes a bearer token.
func (s *SQLiteStore) DeleteAuthToken(ctx context.Context, token string) error {
	err := shared.RetryOnConflict(ctx, "delete auth token", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token = ?`, token)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete auth token: %w", err)
	}
	return nil
}

// DeleteExpiredAuthTokens removes tokens that expired before now.
func (s *SQLiteStore) DeleteExpiredAuthTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired auth tokens: %w", err)
	}
	return result.RowsAffected()
}

// SaveInterview stores a finished interview.
func (s *SQLiteStore) SaveInterview(ctx context.Context, iv *domain.Interview) error {
	confidenceJSON, err := json.Marshal(iv.ConfidenceData)
	if err != nil {
		return fmt.Errorf("encode confidence data: %w", err)
	}
	answersJSON, err := json.Marshal(iv.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	query := `
	INSERT INTO interviews (
		id, user_id, job_role, interview_name, level,
		confidence_json, answers_json, overall_confidence, timestamp_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, "save interview", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			iv.ID, iv.UserID, iv.JobRole, nullString(iv.InterviewName), nullString(iv.Level),
			string(confidenceJSON), string(answersJSON), iv.OverallConfidence,
			iv.Timestamp.UnixMilli(), iv.CreatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save interview: %w", err)
	}
	return nil
}

// ListInterviews returns a user's interviews, newest first.
func (s *SQLiteStore) ListInterviews(ctx context.Context, userID string) ([]*domain.Interview, error) {
	query := `
		SELECT id, user_id, job_role, interview_name, level,
		       confidence_json, answers_json, overall_confidence, timestamp_ms, created_at
		FROM interviews WHERE user_id = ?
		ORDER BY timestamp_ms DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query interviews: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close interview rows", "error", closeErr)
		}
	}()

	interviews := []*domain.Interview{}
	for rows.Next() {
		var iv domain.Interview
		var name, level sql.NullString
		var confidenceJSON, answersJSON string
		var tsMillis, createdAt int64

		if err := rows.Scan(
			&iv.ID, &iv.UserID, &iv.JobRole, &name, &level,
			&confidenceJSON, &answersJSON, &iv.OverallConfidence, &tsMillis, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan interview row: %w", err)
		}
		if err := json.Unmarshal([]byte(confidenceJSON), &iv.ConfidenceData); err != nil {
			return nil, fmt.Errorf("decode confidence data for %s: %w", iv.ID, err)
		}
		if err := json.Unmarshal([]byte(answersJSON), &iv.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for %s: %w", iv.ID, err)
		}
		iv.InterviewName = name.String
		iv.Level = level.String
		iv.Timestamp = time.UnixMilli(tsMillis).UTC()
		iv.CreatedAt = time.Unix(createdAt, 0)
		interviews = append(interviews, &iv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interviews: %w", err)
	}
	return interviews, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
