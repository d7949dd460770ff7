package devfaas

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	Update(ctx context.Context, user User) error
}

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	username VARCHAR(100) UNIQUE NOT NULL,
	password TEXT NOT NULL,
	mfa TEXT NOT NULL DEFAULT '',
	gendate BIGINT NOT NULL,
	expired BOOLEAN NOT NULL DEFAULT FALSE,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	locked BOOLEAN NOT NULL DEFAULT FALSE
)`

// PostgresRepository implements Repository on the functions' users table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the users table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// Create inserts a new user and returns it with its id.
func (r *PostgresRepository) Create(ctx context.Context, user User) (User, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO users (username, password, mfa, gendate, expired, failed_attempts, locked)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		user.Username, string(user.PasswordHash), user.TOTPSecret, user.GenDate.Unix(), user.Expired, user.FailedAttempts, user.Locked)
	if err := row.Scan(&user.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return user, nil
}

// FindByUsername fetches a user by username.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, username, password, mfa, gendate, expired, failed_attempts, locked
        FROM users WHERE username = $1`, username)
	var (
		user    User
		hash    string
		gendate int64
	)
	if err := row.Scan(&user.ID, &user.Username, &hash, &user.TOTPSecret, &gendate, &user.Expired, &user.FailedAttempts, &user.Locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.PasswordHash = []byte(hash)
	user.GenDate = time.Unix(gendate, 0).UTC()
	return user, nil
}

// Update writes every mutable column of user.
func (r *PostgresRepository) Update(ctx context.Context, user User) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET password = $1, mfa = $2, gendate = $3, expired = $4, failed_attempts = $5, locked = $6
        WHERE id = $7`,
		string(user.PasswordHash), user.TOTPSecret, user.GenDate.Unix(), user.Expired, user.FailedAttempts, user.Locked, user.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
