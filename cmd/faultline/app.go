// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/agents"
	"github.com/faultlineio/faultline/services/config"
	"github.com/faultlineio/faultline/services/dashboard"
	"github.com/faultlineio/faultline/services/ingest"
	"github.com/faultlineio/faultline/services/llm"
	"github.com/faultlineio/faultline/services/notify"
	"github.com/faultlineio/faultline/services/pipeline"
	"github.com/faultlineio/faultline/services/store"
	"github.com/faultlineio/faultline/services/vectorstore"
	"golang.org/x/time/rate"
)

// app holds the wired services one command invocation needs.
type app struct {
	cfg      config.Config
	log      *logging.Logger
	store    *store.Store
	reports  *store.Reports
	client   llm.LLMClient
	embedder llm.Embedder // nil when the backend cannot embed
	vector   *vectorstore.Client
	notifier notify.Notifier
	coord    *pipeline.Coordinator
	pool     *pipeline.Pool
	answerer *agents.Answerer
}

// buildApp wires everything the processing commands share. The vector
// client is built best-effort: a bad vector config disables indexing
// instead of blocking the pipeline. Commands that exist only to serve
// retrieval pass requireVector and fail loudly instead.
func buildApp(cfg config.Config, requireVector bool) (*app, error) {
	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "faultline",
	})

	client, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("init llm backend: %w", err)
	}
	embedder, _ := client.(llm.Embedder)

	st, err := store.Open(store.DefaultConfig(cfg.Paths.StoreDir))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("open incident store: %w", err)
	}

	reports, err := store.NewReports(cfg.Paths.RCADir)
	if err != nil {
		st.Close()
		log.Close()
		return nil, err
	}

	var vector *vectorstore.Client
	if embedder != nil {
		vector, err = vectorstore.New(cfg.Vector, embedder, log)
		if err != nil {
			if requireVector {
				st.Close()
				log.Close()
				return nil, fmt.Errorf("init vector store: %w", err)
			}
			log.Warn("vector store disabled", "error", err)
			vector = nil
		}
	} else if requireVector {
		st.Close()
		log.Close()
		return nil, fmt.Errorf("llm backend %q cannot embed; vector features unavailable", cfg.LLM.Backend)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Pipeline.ProviderRPS), cfg.Pipeline.ProviderRPSBurst)
	timeout := cfg.Pipeline.StageTimeout

	notifier := notify.New(cfg.Notify.WebhookURL, log)

	// pipeline.Indexer is satisfied by *vectorstore.Client; a typed nil
	// must not reach the interface.
	var indexer pipeline.Indexer
	if vector != nil {
		indexer = vector
	}

	coord := pipeline.New(
		pipeline.Config{
			MaxAttempts:   cfg.Pipeline.MaxAttempts,
			StoreAttempts: cfg.Pipeline.StoreAttempts,
			Backoff: pipeline.BackoffPolicy{
				Base:   cfg.Pipeline.RetryBackoff,
				Max:    cfg.Pipeline.MaxRetryBackoff,
				Jitter: cfg.Pipeline.RetryJitter,
			},
		},
		st,
		reports,
		agents.NewActionSimulator(client, limiter, timeout),
		agents.NewSeverityClassifier(client, limiter, timeout),
		agents.NewRCAAuthor(client, limiter, timeout),
		indexer,
		notifier,
		log,
	)

	pool, err := pipeline.NewPool(coord, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, log)
	if err != nil {
		st.Close()
		log.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		reports:  reports,
		client:   client,
		embedder: embedder,
		vector:   vector,
		notifier: notifier,
		coord:    coord,
		pool:     pool,
		answerer: agents.NewAnswerer(client, limiter, timeout),
	}, nil
}

// close releases the app's resources in dependency order.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", "error", err)
	}
	a.log.Close()
}

// scanner returns a batch scanner feeding the app's pool.
func (a *app) scanner() *ingest.Scanner {
	return ingest.NewScanner(a.cfg.Paths.LogsDir, a.store, a.pool, a.log)
}

// dashboard returns the HTTP server wired to this app's services. The
// searcher and answerer are nil when the vector store is disabled, and
// the affected endpoints report that instead of failing the server.
func (a *app) dashboard() *dashboard.Server {
	var searcher dashboard.Searcher
	var answerer dashboard.Answerer
	if a.vector != nil {
		searcher = a.vector
		answerer = a.answerer
	}
	return dashboard.New(a.store, a.reports, a.pool, searcher, answerer, a.log)
}
