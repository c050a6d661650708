// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/faultlineio/faultline/services/incident"
)

const (
	incidentPrefix = "incident:"
	seenPrefix     = "seen:"
)

// Store is the durable incident record plus the seen-set used by batch
// ingestion for idempotency.
//
// Thread Safety: safe for concurrent use; BadgerDB serializes writes.
type Store struct {
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens (or creates) the incident database described by cfg.
// Caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, s.gcStop, s.gcDone)
	}
	return s, nil
}

// OpenInMemory opens a throwaway in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// Get loads an incident by id. The second return is false when no record
// exists.
func (s *Store) Get(id string) (*incident.Incident, bool, error) {
	var inc incident.Incident
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(incidentPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &inc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load incident %s: %w", id, err)
	}
	return &inc, true, nil
}

// Put persists the incident record, replacing any previous version.
// Field-level write-once discipline is the incident type's job; the store
// only refuses to regress a terminal RCA_WRITTEN record to an earlier state.
func (s *Store) Put(inc *incident.Incident) error {
	if inc.ID == "" {
		return errors.New("incident id must not be empty")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(incidentPrefix + inc.ID)

		if item, err := txn.Get(key); err == nil {
			var prev incident.Incident
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err == nil {
				if prev.Status == incident.StatusRCAWritten && inc.Status != incident.StatusRCAWritten {
					return fmt.Errorf("incident %s already completed, refusing downgrade to %s", inc.ID, inc.Status)
				}
			}
		}

		data, err := json.Marshal(inc)
		if err != nil {
			return fmt.Errorf("encode incident %s: %w", inc.ID, err)
		}
		return txn.Set(key, data)
	})
}

// List returns all incidents, most recently updated first.
func (s *Store) List() ([]*incident.Incident, error) {
	var out []*incident.Incident
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(incidentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var inc incident.Incident
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inc)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &inc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ListBySeverity returns incidents with the given severity, most recently
// updated first.
func (s *Store) ListBySeverity(sev incident.Severity) ([]*incident.Incident, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, inc := range all {
		if inc.Severity == sev {
			filtered = append(filtered, inc)
		}
	}
	return filtered, nil
}

// MarkSeen records that a batch source (file name) was ingested.
func (s *Store) MarkSeen(source string) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("source must not be empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(seenPrefix+source), []byte{1})
	})
}

// Seen reports whether a batch source was already ingested.
func (s *Store) Seen(source string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(seenPrefix + source))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check seen %s: %w", source, err)
	}
	return true, nil
}
