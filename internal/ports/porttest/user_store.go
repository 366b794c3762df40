// Package porttest holds behavior suites shared by port adapters.
package porttest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parchis/internal/ports"
)

// RunUserStore exercises a UserStore built fresh by newStore for each subtest.
func RunUserStore(t *testing.T, newStore func(t *testing.T) ports.UserStore) {
	ctx := context.Background()
	alice := ports.User{
		Username:     "alice",
		PasswordHash: []byte("hash-a"),
		Nombre:       "Alice",
		Apellido:     "Liddell",
		CreatedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUser(ctx, "nobody")
		require.ErrorIs(t, err, ports.ErrUserNotFound)
	})

	t.Run("insert then get", func(t *testing.T) {
		s := newStore(t)
		inserted, err := s.InsertUser(ctx, alice)
		require.NoError(t, err)
		require.True(t, inserted)

		got, err := s.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.Username, got.Username)
		assert.Equal(t, alice.PasswordHash, got.PasswordHash)
		assert.Equal(t, alice.Nombre, got.Nombre)
		assert.True(t, alice.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("insert is insert-if-absent", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertUser(ctx, alice)
		require.NoError(t, err)

		dup := alice
		dup.PasswordHash = []byte("other")
		inserted, err := s.InsertUser(ctx, dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := s.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []byte("hash-a"), got.PasswordHash)
	})

	t.Run("concurrent inserts admit one", func(t *testing.T) {
		s := newStore(t)
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u := alice
				u.PasswordHash = []byte(fmt.Sprintf("hash-%d", i))
				ok, err := s.InsertUser(ctx, u)
				if err == nil && ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("list sorted", func(t *testing.T) {
		s := newStore(t)
		for _, name := range []string{"carol", "alice", "bob"} {
			_, err := s.InsertUser(ctx, ports.User{Username: name, PasswordHash: []byte("h")})
			require.NoError(t, err)
		}
		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, "alice", users[0].Username)
		assert.Equal(t, "bob", users[1].Username)
		assert.Equal(t, "carol", users[2].Username)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertUser(ctx, alice)
		require.NoError(t, err)

		require.NoError(t, s.DeleteUser(ctx, "alice"))
		_, err = s.GetUser(ctx, "alice")
		require.ErrorIs(t, err, ports.ErrUserNotFound)
		require.ErrorIs(t, s.DeleteUser(ctx, "alice"), ports.ErrUserNotFound)
	})
}
