// Package badger stores credentials in an embedded Badger database.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v2"
	"github.com/heroiclabs/nakama-common/runtime"

	"parchis/internal/ports"
)

const (
	userKeyPrefix = "user/"
	// Concurrent inserts of the same username conflict at commit time.
	maxConflictRetries = 3
)

type UserStore struct {
	db *badgerdb.DB
}

var _ ports.UserStore = (*UserStore)(nil)

// Open opens (or creates) a store at path. An empty path opens an in-memory
// database. Every write is fsynced before it is acknowledged.
func Open(path string, logger runtime.Logger) (*UserStore, error) {
	opts := badgerdb.DefaultOptions(path).WithSyncWrites(true)
	if path == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(loggerAdapter{logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &UserStore{db: db}, nil
}

func userKey(username string) []byte {
	return []byte(userKeyPrefix + username)
}

func (s *UserStore) GetUser(ctx context.Context, username string) (ports.User, error) {
	var u ports.User
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(userKey(username))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ports.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if err != nil {
		return ports.User{}, err
	}
	return u, nil
}

func (s *UserStore) InsertUser(ctx context.Context, u ports.User) (bool, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return false, fmt.Errorf("encode user: %w", err)
	}

	for attempt := 0; ; attempt++ {
		inserted := false
		err = s.db.Update(func(txn *badgerdb.Txn) error {
			_, err := txn.Get(userKey(u.Username))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
			inserted = true
			return txn.Set(userKey(u.Username), data)
		})
		if errors.Is(err, badgerdb.ErrConflict) && attempt < maxConflictRetries {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if err != nil {
			return false, err
		}
		return inserted, nil
	}
}

func (s *UserStore) ListUsers(ctx context.Context) ([]ports.User, error) {
	var out []ports.User
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(userKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var u ports.User
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}
			out = append(out, u)
		}
		return nil
	})
	return out, err
}

func (s *UserStore) DeleteUser(ctx context.Context, username string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(userKey(username)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return ports.ErrUserNotFound
			}
			return err
		}
		return txn.Delete(userKey(username))
	})
}

func (s *UserStore) Close() error {
	return s.db.Close()
}

// loggerAdapter routes badger's internal logging through runtime.Logger.
type loggerAdapter struct {
	logger runtime.Logger
}

func (l loggerAdapter) Errorf(format string, v ...interface{})   { l.logger.Error("badger: "+format, v...) }
func (l loggerAdapter) Warningf(format string, v ...interface{}) { l.logger.Warn("badger: "+format, v...) }
func (l loggerAdapter) Infof(format string, v ...interface{})    { l.logger.Debug("badger: "+format, v...) }
func (l loggerAdapter) Debugf(format string, v ...interface{})   { l.logger.Debug("badger: "+format, v...) }
