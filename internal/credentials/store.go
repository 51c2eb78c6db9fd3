// Package credentials persists the local chat session in SQLite.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dingychat/dingychat-go/internal/credentials/migrations"
	sqlitemigrate "github.com/dingychat/dingychat-go/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// ErrNotFound means no complete session is stored. A record missing any of
// token, username, or color reads as logged out.
var ErrNotFound = errors.New("credentials not found")

// Credentials is the stored session material.
type Credentials struct {
	Token    string
	Username string
	Color    string
}

// Store persists one session record in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite credential store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save replaces the stored session. All three fields are required.
func (s *Store) Save(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	token := strings.TrimSpace(creds.Token)
	username := strings.TrimSpace(creds.Username)
	color := strings.TrimSpace(creds.Color)
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if color == "" {
		return fmt.Errorf("color is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO credentials (id, token, username, color, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   token = excluded.token,
		   username = excluded.username,
		   color = excluded.color,
		   updated_at = excluded.updated_at`,
		token,
		username,
		color,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Load returns the stored session, or ErrNotFound when no complete session
// exists.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Credentials{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT token, username, color FROM credentials WHERE id = 1`,
	)

	var creds Credentials
	if err := row.Scan(&creds.Token, &creds.Username, &creds.Color); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	if strings.TrimSpace(creds.Token) == "" ||
		strings.TrimSpace(creds.Username) == "" ||
		strings.TrimSpace(creds.Color) == "" {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}

// Clear removes the stored session. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
