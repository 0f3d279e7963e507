// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// StoreConfig holds configuration for the embedded run store.
type StoreConfig struct {
	// Path is the directory for the BadgerDB files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults: persistent, synchronous
// writes.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{Path: path, SyncWrites: true}
}

// InMemoryStoreConfig returns a configuration for tests: in-memory, no
// sync.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// RunStore persists estimation runs in an embedded BadgerDB: per-stage
// cloud checkpoints and a final result document, keyed by run ID.
//
// Key layout:
//
//	run/{id}/stage/{0000}  - per-stage checkpoint (JSON)
//	run/{id}/result        - final result summary (JSON)
//
// Thread Safety: Safe for concurrent use; BadgerDB transactions provide
// isolation.
type RunStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore creates and opens a run store with the given configuration.
//
// Outputs:
//
//	*RunStore - The opened store. Caller must Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func OpenStore(cfg StoreConfig) (*RunStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent run store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create run store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close releases the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// ErrNotFound reports a missing checkpoint or result.
var ErrNotFound = errors.New("not found in run store")

// ErrInvalidRunID reports a run ID that cannot be embedded in the
// slash-delimited key layout.
var ErrInvalidRunID = errors.New("run ID must be non-empty and must not contain '/'")

func checkRunID(runID string) error {
	if runID == "" || strings.ContainsRune(runID, '/') {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}

func stageKey(runID string, stage int) []byte {
	return []byte(fmt.Sprintf("run/%s/stage/%04d", runID, stage))
}

func resultKey(runID string) []byte {
	return []byte(fmt.Sprintf("run/%s/result", runID))
}

// SaveCheckpoint stores a per-stage checkpoint document. v is marshaled to
// JSON; pass the cloud's snapshot form.
func (s *RunStore) SaveCheckpoint(runID string, stage int, v any) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode checkpoint run=%s stage=%d: %w", runID, stage, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stageKey(runID, stage), data)
	})
	if err != nil {
		return fmt.Errorf("store checkpoint run=%s stage=%d: %w", runID, stage, err)
	}
	return nil
}

// LoadCheckpoint reads a per-stage checkpoint into dst. Returns ErrNotFound
// if the stage was never checkpointed.
func (s *RunStore) LoadCheckpoint(runID string, stage int, dst any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stageKey(runID, stage))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checkpoint run=%s stage=%d: %w", runID, stage, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	})
	if err != nil {
		return err
	}
	return nil
}

// SaveResult stores the final result summary for a run.
func (s *RunStore) SaveResult(runID string, v any) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result run=%s: %w", runID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(runID), data)
	})
	if err != nil {
		return fmt.Errorf("store result run=%s: %w", runID, err)
	}
	return nil
}

// LoadResult reads the final result summary for a run into dst.
func (s *RunStore) LoadResult(runID string, dst any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("result run=%s: %w", runID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	})
}

// ListStages returns the checkpointed stage indices of a run, ascending.
func (s *RunStore) ListStages(runID string) ([]int, error) {
	prefix := []byte(fmt.Sprintf("run/%s/stage/", runID))
	var stages []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			raw := strings.TrimPrefix(key, string(prefix))
			stage, err := strconv.Atoi(raw)
			if err != nil {
				continue // foreign key under the prefix
			}
			stages = append(stages, stage)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list stages run=%s: %w", runID, err)
	}
	sort.Ints(stages)
	return stages, nil
}

// ListRuns returns the distinct run IDs present in the store.
func (s *RunStore) ListRuns() ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("run/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix([]byte("run/")); it.Next() {
			key := string(it.Item().Key())
			parts := strings.SplitN(key, "/", 3)
			if len(parts) >= 2 {
				seen[parts[1]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]string, 0, len(seen))
	for id := range seen {
		runs = append(runs, id)
	}
	sort.Strings(runs)
	return runs, nil
}
