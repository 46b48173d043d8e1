// Package identity authenticates users and resolves them into approval
// principals carrying their assigned roles.
package identity

import (
	"errors"
	"time"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

var (
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrUserNotFound       = errors.New("identity: user not found")
	ErrSessionMissing     = errors.New("identity: session missing")
	ErrCSRFTokenMissing   = errors.New("identity: csrf token missing")
	ErrCSRFTokenMismatch  = errors.New("identity: csrf token mismatch")
)
