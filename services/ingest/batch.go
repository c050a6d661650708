// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/fsnotify/fsnotify"
)

// Sink receives ingested incidents. pipeline.Pool satisfies it.
type Sink interface {
	Submit(ctx context.Context, inc *incident.Incident) error
}

// SeenSet is the ingestion bookkeeping for batch files. store.Store
// satisfies it.
type SeenSet interface {
	Seen(source string) (bool, error)
	MarkSeen(source string) error
}

// Scanner ingests log files from a directory exactly once per file name.
type Scanner struct {
	dir  string
	seen SeenSet
	sink Sink
	log  *logging.Logger

	// settle is how long a file must be quiet after an fsnotify event
	// before Watch picks it up, so half-written files are not ingested.
	settle time.Duration
}

// NewScanner returns a batch scanner over dir.
func NewScanner(dir string, seen SeenSet, sink Sink, log *logging.Logger) *Scanner {
	if log == nil {
		log = logging.Default()
	}
	return &Scanner{dir: dir, seen: seen, sink: sink, log: log, settle: 2 * time.Second}
}

// isLogFile reports whether name looks like ingestable log material.
func isLogFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".log":
		return true
	}
	return false
}

// Scan ingests every unseen log file currently in the directory and
// returns how many were submitted.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read log directory %s: %w", s.dir, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		ok, err := s.ingestFile(ctx, entry.Name())
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// ingestFile submits one file unless it was already seen. Marking seen
// happens after a successful submit, so a crash mid-ingest replays the
// file; the pipeline's terminal-state check makes the replay harmless.
func (s *Scanner) ingestFile(ctx context.Context, name string) (bool, error) {
	seen, err := s.seen.Seen(name)
	if err != nil {
		return false, fmt.Errorf("seen check %s: %w", name, err)
	}
	if seen {
		return false, nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		s.log.Warn("skipping empty log file", "file", name)
		return false, s.seen.MarkSeen(name)
	}

	inc := incident.New(incident.IDFromFilename(name), name, string(data))
	if err := s.sink.Submit(ctx, inc); err != nil {
		return false, fmt.Errorf("submit %s: %w", name, err)
	}
	if err := s.seen.MarkSeen(name); err != nil {
		return false, fmt.Errorf("mark seen %s: %w", name, err)
	}

	s.log.Info("ingested log file", "file", name, "incident", inc.ID, "bytes", len(data))
	return true, nil
}

// Watch scans once, then ingests new files as they appear until ctx is
// cancelled. Files are picked up only after they stop changing for the
// settle interval.
func (s *Scanner) Watch(ctx context.Context) error {
	if _, err := s.Scan(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.log.Info("watching log directory", "dir", s.dir)

	var mu sync.Mutex
	pending := make(map[string]time.Time)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !isLogFile(name) {
				continue
			}
			mu.Lock()
			pending[name] = time.Now()
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", "error", err)

		case <-ticker.C:
			mu.Lock()
			var ready []string
			for name, last := range pending {
				if time.Since(last) >= s.settle {
					ready = append(ready, name)
					delete(pending, name)
				}
			}
			mu.Unlock()

			for _, name := range ready {
				if _, err := s.ingestFile(ctx, name); err != nil {
					s.log.Error("ingest failed", "file", name, "error", err)
				}
			}
		}
	}
}
