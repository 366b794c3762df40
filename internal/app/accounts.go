package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"parchis/internal/ports"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserExists           = errors.New("user exists")
	ErrAlreadyConnected     = errors.New("user already connected")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	ErrInvalidToken         = errors.New("invalid session token")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotAuthenticated     = errors.New("not authenticated")
)

const (
	maxUsernameLength = 32
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

// Registration carries the fields accepted by register.
type Registration struct {
	Username string
	Password string
	Nombre   string
	Apellido string
}

// Session is the result of a successful login or resume.
type Session struct {
	Username string
	Token    string
}

// UserInfo is a credential record without its hash.
type UserInfo struct {
	Username  string    `json:"username"`
	Nombre    string    `json:"nombre"`
	Apellido  string    `json:"apellido"`
	CreatedAt time.Time `json:"created_at"`
}

// Accounts handles credential use-cases on top of a UserStore.
type Accounts struct {
	store  ports.UserStore
	tokens *TokenService
	cost   int
	now    func() time.Time
}

// NewAccounts constructs the account service. tokens may be nil to disable
// session tokens; cost <= 0 selects DefaultBcryptCost.
func NewAccounts(store ports.UserStore, tokens *TokenService, cost int) *Accounts {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return &Accounts{store: store, tokens: tokens, cost: cost, now: time.Now}
}

// Register stores a new credential record.
func (a *Accounts) Register(ctx context.Context, r Registration) error {
	if err := validateUsername(r.Username); err != nil {
		return err
	}
	if r.Password == "" || len(r.Password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be 1-%d bytes", ErrInvalidInput, maxPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	inserted, err := a.store.InsertUser(ctx, ports.User{
		Username:     r.Username,
		PasswordHash: hash,
		Nombre:       strings.TrimSpace(r.Nombre),
		Apellido:     strings.TrimSpace(r.Apellido),
		CreatedAt:    a.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if !inserted {
		return ErrUserExists
	}
	return nil
}

// Login validates credentials and issues a session token.
func (a *Accounts) Login(ctx context.Context, username, password string) (Session, error) {
	if username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	u, err := a.store.GetUser(ctx, username)
	if errors.Is(err, ports.ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return a.session(u.Username)
}

// Resume authenticates with a token from a previous login. The user must
// still exist.
func (a *Accounts) Resume(ctx context.Context, token string) (Session, error) {
	if a.tokens == nil || token == "" {
		return Session{}, ErrInvalidToken
	}
	username, err := a.tokens.Verify(token)
	if err != nil {
		return Session{}, err
	}
	if _, err := a.store.GetUser(ctx, username); err != nil {
		if errors.Is(err, ports.ErrUserNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, fmt.Errorf("get user: %w", err)
	}
	return a.session(username)
}

// ListUsers returns every registered user without password hashes.
func (a *Accounts) ListUsers(ctx context.Context) ([]UserInfo, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserInfo, 0, len(users))
	for _, u := range users {
		out = append(out, UserInfo{Username: u.Username, Nombre: u.Nombre, Apellido: u.Apellido, CreatedAt: u.CreatedAt})
	}
	return out, nil
}

// DeleteUser removes a credential record.
func (a *Accounts) DeleteUser(ctx context.Context, username string) error {
	return a.store.DeleteUser(ctx, username)
}

func (a *Accounts) session(username string) (Session, error) {
	s := Session{Username: username}
	if a.tokens == nil {
		return s, nil
	}
	token, err := a.tokens.Issue(username)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	s.Token = token
	return s, nil
}

func validateUsername(name string) error {
	if name == "" || len(name) > maxUsernameLength {
		return fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidInput, maxUsernameLength)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: username contains whitespace or control characters", ErrInvalidInput)
		}
	}
	return nil
}
