// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/faultlineio/faultline/services/agents"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/store"
	"github.com/faultlineio/faultline/services/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu        sync.Mutex
	incidents []*incident.Incident
}

func (c *captureSink) Submit(_ context.Context, inc *incident.Incident) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incidents = append(c.incidents, inc)
	return nil
}

type fakeSearcher struct {
	hits []vectorstore.Hit
	err  error
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]vectorstore.Hit, error) {
	return f.hits, f.err
}

type fakeAnswerer struct {
	answer string
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, passages []agents.Passage) (string, error) {
	return f.answer, nil
}

type env struct {
	server  *Server
	store   *store.Store
	reports *store.Reports
	sink    *captureSink
}

func newEnv(t *testing.T, searcher Searcher, answerer Answerer) *env {
	t.Helper()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reports, err := store.NewReports(t.TempDir())
	require.NoError(t, err)

	sink := &captureSink{}
	return &env{
		server:  New(st, reports, sink, searcher, answerer, nil),
		store:   st,
		reports: reports,
		sink:    sink,
	}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func seedIncident(t *testing.T, e *env, id string, sev incident.Severity, raw string) *incident.Incident {
	t.Helper()
	inc := incident.New(id, id+".txt", raw)
	inc.SetAction(incident.ActionAdjustQoS, "outcome")
	inc.SetSeverity(sev, "because")
	inc.SetRCA("# RCA Report - " + id)
	require.NoError(t, e.store.Put(inc))
	return inc
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil, nil)
	w := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestEndpoint(t *testing.T) {
	e := newEnv(t, nil, nil)

	w := e.do(t, http.MethodPost, "/api/ingest", `{"source":"log_42.txt","text":"[09:58] WARN PRB 91%"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "log_42", resp["id"])

	require.Len(t, e.sink.incidents, 1)
	assert.Equal(t, "log_42", e.sink.incidents[0].ID)
}

func TestIngestRejectsEmptyText(t *testing.T) {
	e := newEnv(t, nil, nil)
	w := e.do(t, http.MethodPost, "/api/ingest", `{"source":"x.txt","text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/ingest", `{"source":"x.txt"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListIncidents(t *testing.T) {
	e := newEnv(t, nil, nil)
	seedIncident(t, e, "log_1", incident.SeverityP1, "fiber cut on ring 4")
	seedIncident(t, e, "log_2", incident.SeverityP3, "minor congestion")

	w := e.do(t, http.MethodGet, "/api/incidents", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Incidents []incidentSummary `json:"incidents"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = e.do(t, http.MethodGet, "/api/incidents?severity=P1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "log_1", resp.Incidents[0].ID)

	w = e.do(t, http.MethodGet, "/api/incidents?severity=P9", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetIncident(t *testing.T) {
	e := newEnv(t, nil, nil)
	seedIncident(t, e, "log_1", incident.SeverityP2, "congestion")

	w := e.do(t, http.MethodGet, "/api/incidents/log_1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got incident.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, incident.StatusRCAWritten, got.Status)

	w = e.do(t, http.MethodGet, "/api/incidents/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReport(t *testing.T) {
	e := newEnv(t, nil, nil)
	inc := seedIncident(t, e, "log_1", incident.SeverityP2, "congestion")
	_, err := e.reports.Write(inc)
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/incidents/log_1/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# RCA Report - log_1")

	w = e.do(t, http.MethodGet, "/api/incidents/missing/report", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchEndpoint(t *testing.T) {
	searcher := &fakeSearcher{hits: []vectorstore.Hit{
		{Source: "RCA_log_42.md", Content: "## Root Cause\nqueue overflow", Certainty: 0.9},
	}}
	e := newEnv(t, searcher, nil)

	w := e.do(t, http.MethodGet, "/api/search?q=congestion", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "RCA_log_42.md")

	w = e.do(t, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchUnconfigured(t *testing.T) {
	e := newEnv(t, nil, nil)
	w := e.do(t, http.MethodGet, "/api/search?q=x", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAnswerEndpoint(t *testing.T) {
	searcher := &fakeSearcher{hits: []vectorstore.Hit{
		{Source: "RCA_log_42.md", Content: "## Root Cause\nqueue overflow"},
	}}
	e := newEnv(t, searcher, &fakeAnswerer{answer: "- **Root cause**: queue overflow [source: RCA_log_42.md]"})

	w := e.do(t, http.MethodPost, "/api/answer", `{"question":"what caused the congestion?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Answer  string   `json:"answer"`
		Sources []string `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Answer, "queue overflow")
	assert.Equal(t, []string{"RCA_log_42.md"}, resp.Sources)
}

func TestAnswerNoHits(t *testing.T) {
	e := newEnv(t, &fakeSearcher{}, &fakeAnswerer{})
	w := e.do(t, http.MethodPost, "/api/answer", `{"question":"anything"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no indexed RCA content")
}

func TestAnalyticsSummary(t *testing.T) {
	e := newEnv(t, nil, nil)
	seedIncident(t, e, "log_1", incident.SeverityP1, "fiber cut on backhaul link")
	seedIncident(t, e, "log_2", incident.SeverityP2, "severe congestion on CELL-442")
	failed := incident.New("log_3", "log_3.txt", "process crash loop detected")
	failed.MarkFailed("severity: exhausted attempts")
	require.NoError(t, e.store.Put(failed))

	w := e.do(t, http.MethodGet, "/api/analytics/summary", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 1, got.BySeverity["P1"])
	assert.Equal(t, 2, got.ByCategory["network"])
	assert.Equal(t, 1, got.ByCategory["software"])
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"PRB utilization 91% congestion", "network"},
		{"Node heartbeat missed, node down", "hardware"},
		{"radio process crash after config push", "software"},
		{"something unclassifiable", "other"},
	}
	for _, tt := range tests {
		inc := incident.New("x", "x.txt", tt.raw)
		assert.Equal(t, tt.want, categorize(inc), tt.raw)
	}
}
