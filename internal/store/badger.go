// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package store persists hero pools in BadgerDB so a restarted instance can
// serve a stale pool immediately instead of blanking the hero surface.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/marqueelabs/marquee/internal/heropool"
)

const (
	poolKeyPrefix = "heropool:"

	// gcInterval paces value log garbage collection.
	gcInterval = time.Hour

	// gcDiscardRatio rewrites a value log file when at least half is stale.
	gcDiscardRatio = 0.5
)

// BadgerStore implements heropool.Store on an embedded BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Options controls store opening.
type Options struct {
	// Path is the on-disk database directory. Ignored when InMemory is set.
	Path string

	// InMemory backs the store with memory only, used in tests and for
	// cache-less deployments.
	InMemory bool
}

// Open opens or creates the pool store.
func Open(opts Options, logger zerolog.Logger) (*BadgerStore, error) {
	storeLogger := logger.With().Str("component", "store").Logger()

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{logger: storeLogger})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}

	return &BadgerStore{db: db, logger: storeLogger}, nil
}

// Load returns the persisted pool for a kind.
func (s *BadgerStore) Load(_ context.Context, kind heropool.Kind) (*heropool.PoolResult, error) {
	var result heropool.PoolResult

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(poolKey(kind))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, heropool.ErrPoolNotFound
		}
		return nil, fmt.Errorf("load pool %s: %w", kind, err)
	}

	return &result, nil
}

// Save persists a pool, replacing any previous one for the kind.
func (s *BadgerStore) Save(_ context.Context, result *heropool.PoolResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode pool %s: %w", result.Kind, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(poolKey(result.Kind), data)
	})
	if err != nil {
		return fmt.Errorf("save pool %s: %w", result.Kind, err)
	}
	return nil
}

// Delete removes the persisted pool for a kind. Deleting a missing pool is
// not an error.
func (s *BadgerStore) Delete(_ context.Context, kind heropool.Kind) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(poolKey(kind))
	})
	if err != nil {
		return fmt.Errorf("delete pool %s: %w", kind, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// String implements suture's service naming.
func (s *BadgerStore) String() string {
	return "pool-store-gc"
}

// Serve runs periodic value log garbage collection until the context is
// canceled, suitable for running under the supervisor.
func (s *BadgerStore) Serve(ctx context.Context) error {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn().Err(err).Msg("value log gc failed")
			}
		}
	}
}

func poolKey(kind heropool.Kind) []byte {
	return []byte(poolKeyPrefix + kind.String())
}

// badgerLogger adapts zerolog to badger's logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(trimNewline(format), args...)
}

func trimNewline(format string) string {
	if len(format) > 0 && format[len(format)-1] == '\n' {
		return format[:len(format)-1]
	}
	return format
}
