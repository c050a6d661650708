// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/config"
	"github.com/segmentio/kafka-go"
)

// lineWriter is the slice of kafka.Writer the producer uses.
type lineWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer replays log files onto the stream topic line by line, keyed
// by file name so all lines of one file land in the same debounce
// window. Meant for demos and for re-driving historical logs through
// the streaming path.
type Producer struct {
	writer lineWriter
	delay  time.Duration // pause between lines to mimic live arrival
	log    *logging.Logger
}

// NewProducer connects a producer to the configured broker and topic.
func NewProducer(cfg config.StreamConfig, delay time.Duration, log *logging.Logger) *Producer {
	if log == nil {
		log = logging.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Broker),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same key -> same partition -> ordered lines
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer, delay: delay, log: log}
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ReplayDir replays every log file in dir. Returns the number of lines
// published.
func (p *Producer) ReplayDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read directory %s: %w", dir, err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		n, err := p.ReplayFile(ctx, filepath.Join(dir, entry.Name()))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReplayFile publishes one file line by line, keyed by its base name.
func (p *Producer) ReplayFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	key := []byte(filepath.Base(path))
	count := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: []byte(line)}); err != nil {
			return count, fmt.Errorf("publish line from %s: %w", path, err)
		}
		count++

		if p.delay > 0 {
			select {
			case <-ctx.Done():
				return count, ctx.Err()
			case <-time.After(p.delay):
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("scan %s: %w", path, err)
	}

	p.log.Info("replayed log file", "file", filepath.Base(path), "lines", count)
	return count, nil
}
