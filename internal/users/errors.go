package users

import "errors"

var (
	ErrDuplicateEmail     = errors.New("users: email already registered")
	ErrValidation         = errors.New("users: invalid input")
	ErrStoreUnavailable   = errors.New("users: store unavailable")
	ErrNotFound           = errors.New("users: not found")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)
