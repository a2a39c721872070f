package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"userservice/pkg/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// Service creates and authenticates users.
type Service struct {
	repo     Repository
	hashCost int
	now      func() time.Time
}

// NewService creates a service using bcrypt.DefaultCost.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, hashCost: bcrypt.DefaultCost, now: func() time.Time { return time.Now().UTC() }}
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.hashCost = cost
	return s
}

// CreateUser validates input, hashes the password and stores a new user.
func (s *Service) CreateUser(ctx context.Context, name, email, password string) (models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return models.User{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return models.User{}, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if len(password) < minPasswordLength {
		return models.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	now := s.now()
	user := models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Authenticate returns the user whose credentials match.
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser returns the user with id.
func (s *Service) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.repo.FindByID(ctx, id)
}
