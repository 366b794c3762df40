// Package memory provides an in-process UserStore for tests and throwaway
// deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"parchis/internal/ports"
)

type UserStore struct {
	mu    sync.RWMutex
	users map[string]ports.User
}

var _ ports.UserStore = (*UserStore)(nil)

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]ports.User)}
}

func (s *UserStore) GetUser(ctx context.Context, username string) (ports.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return ports.User{}, ports.ErrUserNotFound
	}
	return u, nil
}

func (s *UserStore) InsertUser(ctx context.Context, u ports.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Username]; exists {
		return false, nil
	}
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	s.users[u.Username] = u
	return true, nil
}

func (s *UserStore) ListUsers(ctx context.Context) ([]ports.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *UserStore) DeleteUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return ports.ErrUserNotFound
	}
	delete(s.users, username)
	return nil
}

func (s *UserStore) Close() error { return nil }
