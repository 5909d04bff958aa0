package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"privora/internal/common"
	"privora/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			email         TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS files (
			id             TEXT PRIMARY KEY,
			owner_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			original_name  TEXT NOT NULL,
			encrypted_name TEXT NOT NULL,
			encrypted_path TEXT NOT NULL,
			size           BIGINT NOT NULL,
			mime_type      TEXT NOT NULL,
			uploaded_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS transfers (
			id           TEXT PRIMARY KEY,
			file_id      TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			sender_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status       TEXT NOT NULL,
			sent_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			received_at  TIMESTAMPTZ,
			decrypted_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_sender   ON transfers(sender_id);
		CREATE INDEX IF NOT EXISTS idx_transfers_receiver ON transfers(receiver_id);
	`)
	return err
}

// RegisterUser creates a new account with a bcrypt-hashed password.
func (s *Store) RegisterUser(ctx context.Context, username, email, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Email, string(hash), u.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// AuthenticateUser validates email+password. Wrong email and wrong password
// fail identically so the response never reveals which one was off.
func (s *Store) AuthenticateUser(ctx context.Context, email, password string) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email=$1`, email,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrAuthFailed
	}
	if err != nil {
		// A failing database is not a bad credential.
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, common.ErrAuthFailed
	}
	u.PasswordHash = ""
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsers returns every account except excludeID, for recipient pickers.
func (s *Store) ListUsers(ctx context.Context, excludeID string) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, email, created_at FROM users WHERE id <> $1 ORDER BY username ASC`,
		excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
