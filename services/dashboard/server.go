// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dashboard serves the HTTP API over processed incidents:
// listings, reports, semantic search, grounded Q&A and analytics.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/agents"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/vectorstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// IncidentReader is the store surface the dashboard needs.
type IncidentReader interface {
	Get(id string) (*incident.Incident, bool, error)
	List() ([]*incident.Incident, error)
}

// ReportReader loads stored RCA Markdown by incident id.
type ReportReader interface {
	Read(id string) (string, error)
}

// Sink accepts incidents submitted through the API.
type Sink interface {
	Submit(ctx context.Context, inc *incident.Incident) error
}

// Searcher retrieves semantically similar RCA chunks.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]vectorstore.Hit, error)
}

// Answerer produces a cited answer from retrieved passages.
type Answerer interface {
	Answer(ctx context.Context, question string, passages []agents.Passage) (string, error)
}

// Server is the dashboard HTTP API. searcher and answerer may be nil
// when no vector store is configured; the search and answer routes then
// report 503.
type Server struct {
	store    IncidentReader
	reports  ReportReader
	sink     Sink
	searcher Searcher
	answerer Answerer
	log      *logging.Logger
	engine   *gin.Engine
}

// New assembles the server and its routes.
func New(store IncidentReader, reports ReportReader, sink Sink, searcher Searcher, answerer Answerer, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("faultline-dashboard"))

	s := &Server{
		store:    store,
		reports:  reports,
		sink:     sink,
		searcher: searcher,
		answerer: answerer,
		log:      log,
		engine:   engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.POST("/ingest", s.handleIngest)
	api.GET("/incidents", s.handleListIncidents)
	api.GET("/incidents/:id", s.handleGetIncident)
	api.GET("/incidents/:id/report", s.handleGetReport)
	api.GET("/search", s.handleSearch)
	api.POST("/answer", s.handleAnswer)
	api.GET("/analytics/summary", s.handleAnalytics)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("dashboard listening", "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
