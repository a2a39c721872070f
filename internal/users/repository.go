package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"userservice/pkg/models"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const selectUser = "SELECT id, name, email, password_hash, created_at, updated_at FROM users"

// Repository persists users.
type Repository interface {
	Insert(ctx context.Context, u models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	DB *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{DB: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, u models.User) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, name, email, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("%w: insert user: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx, selectUser+" WHERE email = $1", email))
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx, selectUser+" WHERE id = $1", id))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("%w: fetch user: %w", ErrStoreUnavailable, err)
	}
	return u, nil
}
