package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// User represents a registered user.
type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// UnmarshalJSON accepts the id as either a JSON string or a JSON number so
// that events from publishers using numeric ids still decode.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.ID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil
	case raw[0] == '"':
		return json.Unmarshal(raw, &u.ID)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		u.ID = n.String()
		return nil
	}
}

// Snapshot returns a copy of the user that is safe to embed in an event.
func (u User) Snapshot() User {
	u.PasswordHash = ""
	return u
}

// RegisterRequest is the request body for registering a user.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required" example:"Ann"`
	Email    string `json:"email" binding:"required,email" example:"ann@example.com"`
	Password string `json:"password" binding:"required,min=6" example:"s3cret!"`
}

// LoginRequest is the request body for exchanging credentials for a token.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email" example:"ann@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret!"`
}
