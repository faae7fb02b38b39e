// Package badger persists the push token in an embedded Badger database,
// the default store for devices and single-host deployments.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

const tokenKeyPrefix = "push_token/"

type TokenStore struct {
	db  *badger.DB
	key []byte
}

// Open opens (or creates) a database under dir.
func Open(dir string, logger *slog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(&slogAdapter{logger: logger.With("component", "badger")}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return db, nil
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory(logger *slog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(&slogAdapter{logger: logger.With("component", "badger")}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger: %w", err)
	}
	return db, nil
}

// NewTokenStore stores the token for installationID in db.
func NewTokenStore(db *badger.DB, installationID string) *TokenStore {
	return &TokenStore{db: db, key: []byte(tokenKeyPrefix + installationID)}
}

func (s *TokenStore) Load(_ context.Context) (string, error) {
	var token string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		token = string(val)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load push token: %w", err)
	}
	return token, nil
}

func (s *TokenStore) Save(_ context.Context, token string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, []byte(token))
	})
	if err != nil {
		return fmt.Errorf("failed to save push token: %w", err)
	}
	return nil
}

// slogAdapter routes badger's printf logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Warningf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Infof(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}
