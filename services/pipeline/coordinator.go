// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline drives incidents through the processing state machine:
//
//	NEW -> ACTION_TAKEN -> SEVERITY_CLASSIFIED -> RCA_WRITTEN
//
// with FAILED reachable from any non-terminal state. The coordinator owns
// stage ordering, retries, persistence and per-incident exclusion; the
// LLM-backed roles in services/agents do the actual analysis.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/agents"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/notify"
	"github.com/prometheus/client_golang/prometheus"
)

// IncidentStore is the durable record the coordinator reads and writes.
type IncidentStore interface {
	Get(id string) (*incident.Incident, bool, error)
	Put(inc *incident.Incident) error
}

// ReportWriter publishes finished RCA documents outside the database.
type ReportWriter interface {
	Write(inc *incident.Incident) (string, error)
}

// Indexer makes a finished RCA searchable. Indexing is best-effort: a
// failed index never fails a completed incident.
type Indexer interface {
	IndexReport(ctx context.Context, inc *incident.Incident) error
}

// Simulator, Classifier and Author are the three pipeline roles. The
// concrete implementations live in services/agents.
type Simulator interface {
	Simulate(ctx context.Context, rawText string) (agents.ActionResult, error)
}

type Classifier interface {
	Classify(ctx context.Context, narrative string) (agents.SeverityResult, error)
}

type Author interface {
	Author(ctx context.Context, inc *incident.Incident) (string, error)
}

// Config bounds the coordinator's retry behavior.
type Config struct {
	// MaxAttempts is the exact per-stage call budget for the LLM roles.
	MaxAttempts int

	// StoreAttempts bounds persistence retries.
	StoreAttempts int

	Backoff BackoffPolicy
}

// Coordinator runs the incident state machine. Safe for concurrent use:
// concurrent Process calls for the same incident id serialize, calls for
// different ids run independently.
type Coordinator struct {
	cfg        Config
	store      IncidentStore
	reports    ReportWriter
	simulator  Simulator
	classifier Classifier
	author     Author
	indexer    Indexer // optional
	notifier   notify.Notifier
	log        *logging.Logger

	mu       sync.Mutex
	inflight map[string]*inflightEntry
}

type inflightEntry struct {
	mu   sync.Mutex
	refs int
}

// New wires a coordinator. indexer may be nil when no vector store is
// configured; notifier may be nil and defaults to a no-op.
func New(cfg Config, st IncidentStore, reports ReportWriter, sim Simulator, cls Classifier, author Author, indexer Indexer, notifier notify.Notifier, log *logging.Logger) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Coordinator{
		cfg:        cfg,
		store:      st,
		reports:    reports,
		simulator:  sim,
		classifier: cls,
		author:     author,
		indexer:    indexer,
		notifier:   notifier,
		log:        log,
		inflight:   make(map[string]*inflightEntry),
	}
}

// acquire takes the per-incident lock, creating it on first use and
// dropping it when the last holder releases.
func (c *Coordinator) acquire(id string) func() {
	c.mu.Lock()
	e := c.inflight[id]
	if e == nil {
		e = &inflightEntry{}
		c.inflight[id] = e
	}
	e.refs++
	c.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		c.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(c.inflight, id)
		}
		c.mu.Unlock()
	}
}

// Process runs inc through all remaining stages.
//
// The stored record is authoritative: if the incident already exists, the
// argument's analysis fields are ignored in favor of what was committed.
// Processing a terminal incident is a no-op returning the stored record,
// so replays of already-handled sources are harmless.
func (c *Coordinator) Process(ctx context.Context, inc *incident.Incident) (*incident.Incident, error) {
	release := c.acquire(inc.ID)
	defer release()

	stored, found, err := c.store.Get(inc.ID)
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", inc.ID, err)
	}
	if found {
		inc = stored
	} else {
		if err := c.persist(ctx, inc); err != nil {
			return nil, fmt.Errorf("register incident %s: %w", inc.ID, err)
		}
		c.notifier.Notify(ctx, notify.NewEvent(notify.EventDetected, inc, ""))
	}

	if inc.Status.Terminal() {
		c.log.Debug("incident already terminal, skipping", "incident", inc.ID, "status", string(inc.Status))
		return inc, nil
	}
	return c.run(ctx, inc)
}

// Reprocess rewinds a FAILED incident to its last committed stage and
// runs the remaining stages. Completed incidents are returned unchanged.
func (c *Coordinator) Reprocess(ctx context.Context, id string) (*incident.Incident, error) {
	release := c.acquire(id)
	defer release()

	inc, found, err := c.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("incident %s not found", id)
	}
	if inc.Status == incident.StatusRCAWritten {
		return inc, nil
	}
	inc.ResetFailure()
	return c.run(ctx, inc)
}

func (c *Coordinator) run(ctx context.Context, inc *incident.Incident) (*incident.Incident, error) {
	if inc.Action == "" {
		if err := c.runAction(ctx, inc); err != nil {
			return c.fail(ctx, inc, "action", err)
		}
	}
	if inc.Severity == "" {
		if err := c.runSeverity(ctx, inc); err != nil {
			return c.fail(ctx, inc, "severity", err)
		}
	}
	if inc.RCADocument == "" {
		if err := c.runRCA(ctx, inc); err != nil {
			return c.fail(ctx, inc, "rca", err)
		}
	}

	incidentsTotal.WithLabelValues("completed").Inc()
	c.log.Info("incident completed", "incident", inc.ID, "severity", string(inc.Severity), "action", string(inc.Action))
	return inc, nil
}

func (c *Coordinator) runAction(ctx context.Context, inc *incident.Incident) error {
	timer := prometheus.NewTimer(stageDuration.WithLabelValues("action"))
	defer timer.ObserveDuration()

	var res agents.ActionResult
	err := retry(ctx, c.cfg.MaxAttempts, c.cfg.Backoff, nil, c.countRetry("action", inc.ID), func(ctx context.Context) error {
		var err error
		res, err = c.simulator.Simulate(ctx, inc.RawText)
		return err
	})
	if err != nil {
		return err
	}

	inc.SetAction(res.Action, res.Outcome)
	if err := c.persist(ctx, inc); err != nil {
		return err
	}
	c.notifier.Notify(ctx, notify.NewEvent(notify.EventAction, inc, res.Decision))
	return nil
}

func (c *Coordinator) runSeverity(ctx context.Context, inc *incident.Incident) error {
	timer := prometheus.NewTimer(stageDuration.WithLabelValues("severity"))
	defer timer.ObserveDuration()

	var res agents.SeverityResult
	err := retry(ctx, c.cfg.MaxAttempts, c.cfg.Backoff, nil, c.countRetry("severity", inc.ID), func(ctx context.Context) error {
		var err error
		res, err = c.classifier.Classify(ctx, inc.Narrative())
		return err
	})
	if err != nil {
		return err
	}

	inc.SetSeverity(res.Level, res.Rationale)
	if err := c.persist(ctx, inc); err != nil {
		return err
	}
	c.notifier.Notify(ctx, notify.NewEvent(notify.EventClassified, inc, res.Rationale))
	return nil
}

// runRCA authors the document and commits it in one durable step. If the
// commit cannot be made durable the incident stays at SEVERITY_CLASSIFIED
// underneath the failure, so a later reprocess only redoes the RCA stage.
func (c *Coordinator) runRCA(ctx context.Context, inc *incident.Incident) error {
	timer := prometheus.NewTimer(stageDuration.WithLabelValues("rca"))
	defer timer.ObserveDuration()

	var doc string
	err := retry(ctx, c.cfg.MaxAttempts, c.cfg.Backoff, nil, c.countRetry("rca", inc.ID), func(ctx context.Context) error {
		var err error
		doc, err = c.author.Author(ctx, inc)
		return err
	})
	if err != nil {
		return err
	}

	candidate := *inc
	candidate.SetRCA(doc)
	if err := c.persist(ctx, &candidate); err != nil {
		return fmt.Errorf("persist rca: %w", err)
	}
	*inc = candidate

	if path, err := c.reports.Write(inc); err != nil {
		c.log.Warn("report file write failed", "incident", inc.ID, "error", err)
	} else {
		c.log.Info("rca report written", "incident", inc.ID, "path", path)
	}

	if c.indexer != nil {
		if err := c.indexer.IndexReport(ctx, inc); err != nil {
			c.log.Warn("rca indexing failed", "incident", inc.ID, "error", err)
		}
	}

	c.notifier.Notify(ctx, notify.NewEvent(notify.EventRCADone, inc, ""))
	return nil
}

// fail commits the terminal failure, preserving every stage that already
// persisted, and reports it.
func (c *Coordinator) fail(ctx context.Context, inc *incident.Incident, stage string, cause error) (*incident.Incident, error) {
	inc.MarkFailed(fmt.Sprintf("%s: %v", stage, cause))
	if err := c.persist(ctx, inc); err != nil {
		c.log.Error("failed to persist failure state", "incident", inc.ID, "error", err)
	}
	c.notifier.Notify(ctx, notify.NewEvent(notify.EventFailed, inc, inc.FailureReason))
	incidentsTotal.WithLabelValues("failed").Inc()
	return inc, fmt.Errorf("incident %s failed at %s stage: %w", inc.ID, stage, cause)
}

// persist writes the record with bounded retries. Storage has no
// transient/permanent split, so everything but cancellation is retried.
func (c *Coordinator) persist(ctx context.Context, inc *incident.Incident) error {
	return retry(ctx, c.cfg.StoreAttempts, c.cfg.Backoff, retryAnyExceptCancel, c.countRetry("store", inc.ID), func(context.Context) error {
		return c.store.Put(inc)
	})
}

func (c *Coordinator) countRetry(stage, id string) func(int) {
	return func(attempt int) {
		stageRetries.WithLabelValues(stage).Inc()
		c.log.Warn("retrying stage", "stage", stage, "incident", id, "attempt", attempt)
	}
}
