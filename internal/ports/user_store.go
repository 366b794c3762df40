package ports

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by UserStore lookups for unknown usernames.
var ErrUserNotFound = errors.New("user not found")

// User is a stored credential record.
type User struct {
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"password_hash"`
	Nombre       string    `json:"nombre"`
	Apellido     string    `json:"apellido"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserStore defines durable credential storage.
type UserStore interface {
	// GetUser returns the record for username or ErrUserNotFound.
	GetUser(ctx context.Context, username string) (User, error)

	// InsertUser stores u only if the username is unused.
	// Returns inserted=false when a record already exists. Writes are flushed
	// before returning.
	InsertUser(ctx context.Context, u User) (inserted bool, err error)

	// ListUsers returns every record ordered by username.
	ListUsers(ctx context.Context) ([]User, error)

	// DeleteUser removes a record. Returns ErrUserNotFound when absent.
	DeleteUser(ctx context.Context, username string) error

	Close() error
}
