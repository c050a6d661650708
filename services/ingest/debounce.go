// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest turns raw log material into incidents: batch scans of a
// log directory, and streamed log lines coalesced into debounce windows.
package ingest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faultlineio/faultline/services/incident"
)

// Window is one flushed debounce buffer: every line that arrived for a
// source key without a quiet gap of the debounce interval.
type Window struct {
	Key   string
	Lines []string
	Start time.Time // arrival of the first line
	End   time.Time // arrival of the last line
}

// ID is the stable incident id for this window. The window start makes
// ids unique across successive bursts from the same source.
func (w Window) ID() string {
	return fmt.Sprintf("stream_%s_%d", incident.IDFromFilename(w.Key), w.Start.Unix())
}

// Text joins the buffered lines back into log text.
func (w Window) Text() string {
	return strings.Join(w.Lines, "\n") + "\n"
}

type buffer struct {
	lines []string
	start time.Time
	last  time.Time
}

// Debouncer groups streamed lines per source key and releases a key's
// buffer only after the source has been quiet for the full interval.
// A steady trickle of lines keeps extending the window.
//
// Thread Safety: safe for concurrent use.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	buffers  map[string]*buffer
	now      func() time.Time
}

// NewDebouncer returns a debouncer with the given quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		buffers:  make(map[string]*buffer),
		now:      time.Now,
	}
}

// Add appends a line to the key's open window, opening one if needed.
// The returned window identifies the buffer the line landed in (Key and
// Start populated) so callers can journal against its id.
func (d *Debouncer) Add(key, line string) Window {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	b := d.buffers[key]
	if b == nil {
		b = &buffer{start: now}
		d.buffers[key] = b
	}
	b.lines = append(b.lines, line)
	b.last = now
	return Window{Key: key, Start: b.start, End: b.last}
}

// Pending returns the number of open windows.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Expired removes and returns every window whose source has been quiet
// for at least the debounce interval. Called from a periodic tick.
func (d *Debouncer) Expired() []Window {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var out []Window
	for key, b := range d.buffers {
		if now.Sub(b.last) >= d.interval {
			out = append(out, Window{Key: key, Lines: b.lines, Start: b.start, End: b.last})
			delete(d.buffers, key)
		}
	}
	return out
}

// Drain removes and returns every open window regardless of age. Used on
// shutdown so buffered lines are never lost.
func (d *Debouncer) Drain() []Window {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Window
	for key, b := range d.buffers {
		out = append(out, Window{Key: key, Lines: b.lines, Start: b.start, End: b.last})
		delete(d.buffers, key)
	}
	return out
}
