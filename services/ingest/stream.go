// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/config"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// messageReader is the slice of kafka.Reader the consumer uses; tests
// substitute an in-memory feed.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads log lines from a Kafka topic, coalesces them into
// per-source debounce windows, and hands each flushed window to the
// pipeline as a fresh incident.
//
// Every line is journaled to the window's file on disk before its offset
// is committed, giving at-least-once delivery across crashes: a crash
// before the journal write leaves the offset uncommitted (the broker
// redelivers), a crash after it leaves a partial journal that Run
// recovers on the next start. Duplicates from either path die at the
// pipeline's terminal-state check.
type Consumer struct {
	reader      messageReader
	debouncer   *Debouncer
	sink        Sink
	ingestedDir string
	tick        time.Duration
	log         *logging.Logger
}

// NewConsumer connects a consumer group to the configured broker.
func NewConsumer(cfg config.StreamConfig, ingestedDir string, sink Sink, log *logging.Logger) (*Consumer, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("stream broker and topic must be configured")
	}
	if err := os.MkdirAll(ingestedDir, 0750); err != nil {
		return nil, fmt.Errorf("create ingested directory %s: %w", ingestedDir, err)
	}
	if log == nil {
		log = logging.Default()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{cfg.Broker},
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // explicit commits
	})

	return &Consumer{
		reader:      reader,
		debouncer:   NewDebouncer(cfg.Debounce),
		sink:        sink,
		ingestedDir: ingestedDir,
		tick:        cfg.TickInterval,
		log:         log,
	}, nil
}

// Run consumes until ctx is cancelled, then drains open windows so no
// buffered lines are dropped. Partial window journals left by an earlier
// crash are submitted before consumption starts.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	if err := c.recoverJournals(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.fetchLoop(gctx) })
	g.Go(func() error { return c.flushLoop(gctx) })

	err := g.Wait()

	// Shutdown drain runs outside the cancelled context.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, w := range c.debouncer.Drain() {
		if ferr := c.flushWindow(drainCtx, w); ferr != nil {
			c.log.Error("drain flush failed", "key", w.Key, "error", ferr)
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) fetchLoop(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		key := string(msg.Key)
		if key == "" {
			key = msg.Topic
		}
		line := string(msg.Value)
		w := c.debouncer.Add(key, line)

		// The offset moves only once the line is on disk.
		if err := c.appendJournal(w, line); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

// partialSuffix marks a window journal still receiving lines; the rename
// at flush marks it complete.
const partialSuffix = ".partial"

func (c *Consumer) journalPath(id string) string {
	return filepath.Join(c.ingestedDir, id+".txt"+partialSuffix)
}

// appendJournal writes the line to the window's on-disk journal and
// syncs it, making the line durable before its offset is committed.
func (c *Consumer) appendJournal(w Window, line string) error {
	id := w.ID()
	f, err := os.OpenFile(c.journalPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("journal window %s: %w", id, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("journal window %s: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("journal window %s: %w", id, err)
	}
	return f.Close()
}

// recoverJournals submits windows whose journals survived a crash. The
// pipeline treats resubmission of an already-completed window as a no-op,
// so recovery never double-processes.
func (c *Consumer) recoverJournals(ctx context.Context) error {
	partials, err := filepath.Glob(filepath.Join(c.ingestedDir, "*"+partialSuffix))
	if err != nil {
		return fmt.Errorf("scan window journals: %w", err)
	}
	for _, partial := range partials {
		final := strings.TrimSuffix(partial, partialSuffix)
		if err := os.Rename(partial, final); err != nil {
			return fmt.Errorf("recover window journal %s: %w", partial, err)
		}
		text, err := os.ReadFile(final)
		if err != nil {
			return fmt.Errorf("recover window journal %s: %w", partial, err)
		}

		id := strings.TrimSuffix(filepath.Base(final), ".txt")
		inc := incident.New(id, filepath.Base(final), string(text))
		if err := c.sink.Submit(ctx, inc); err != nil {
			return fmt.Errorf("submit recovered window %s: %w", id, err)
		}
		c.log.Info("recovered stream window", "incident", id)
	}
	return nil
}

func (c *Consumer) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, w := range c.debouncer.Expired() {
				if err := c.flushWindow(ctx, w); err != nil {
					c.log.Error("window flush failed", "key", w.Key, "error", err)
				}
			}
		}
	}
}

// flushWindow completes the window's journal, renaming it to the final
// log file, then submits the incident. The file is the durable record of
// what the stream delivered; its base name is the incident id.
func (c *Consumer) flushWindow(ctx context.Context, w Window) error {
	id := w.ID()
	path := filepath.Join(c.ingestedDir, id+".txt")
	if err := os.Rename(c.journalPath(id), path); err != nil {
		// No journal, e.g. a window rebuilt in memory: write it whole.
		if werr := os.WriteFile(path, []byte(w.Text()), 0640); werr != nil {
			return fmt.Errorf("materialize window %s: %w", id, werr)
		}
	}

	inc := incident.New(id, filepath.Base(path), w.Text())
	if err := c.sink.Submit(ctx, inc); err != nil {
		return fmt.Errorf("submit window %s: %w", id, err)
	}

	c.log.Info("stream window flushed", "incident", id, "key", w.Key,
		"lines", len(w.Lines), "span", w.End.Sub(w.Start).String())
	return nil
}
