// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/faultlineio/faultline/services/agents"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ingestRequest struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text" binding:"required"`
}

// handleIngest accepts raw log text and queues it for processing.
// Returns 202: the pipeline runs asynchronously.
func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text must not be empty"})
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	id := req.ID
	if id == "" {
		id = incident.IDFromFilename(source)
	}

	inc := incident.New(id, source, req.Text)
	if err := s.sink.Submit(c.Request.Context(), inc); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": inc.ID, "status": string(inc.Status)})
}

type incidentSummary struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Status     string `json:"status"`
	Severity   string `json:"severity,omitempty"`
	Action     string `json:"action,omitempty"`
	IngestedAt string `json:"ingested_at"`
	UpdatedAt  string `json:"updated_at"`
}

func summarize(inc *incident.Incident) incidentSummary {
	return incidentSummary{
		ID:         inc.ID,
		Source:     inc.Source,
		Status:     string(inc.Status),
		Severity:   string(inc.Severity),
		Action:     string(inc.Action),
		IngestedAt: inc.IngestedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:  inc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleListIncidents(c *gin.Context) {
	all, err := s.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if sev := c.Query("severity"); sev != "" {
		level, ok := incident.ParseSeverity(sev)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be P1, P2 or P3"})
			return
		}
		filtered := all[:0]
		for _, inc := range all {
			if inc.Severity == level {
				filtered = append(filtered, inc)
			}
		}
		all = filtered
	}

	summaries := make([]incidentSummary, 0, len(all))
	for _, inc := range all {
		summaries = append(summaries, summarize(inc))
	}
	c.JSON(http.StatusOK, gin.H{"incidents": summaries, "count": len(summaries)})
}

func (s *Server) handleGetIncident(c *gin.Context) {
	inc, found, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

// handleGetReport serves the RCA Markdown as text for direct reading.
func (s *Server) handleGetReport(c *gin.Context) {
	id := c.Param("id")
	doc, err := s.reports.Read(id)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(doc))
}

func (s *Server) handleSearch(c *gin.Context) {
	if s.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector store not configured"})
		return
	}
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q parameter is required"})
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("k", "5"))

	hits, err := s.searcher.Search(c.Request.Context(), query, topK)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits, "count": len(hits)})
}

type answerRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

// handleAnswer retrieves the most relevant RCA chunks and consolidates
// them into a cited answer.
func (s *Server) handleAnswer(c *gin.Context) {
	if s.searcher == nil || s.answerer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector store not configured"})
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hits, err := s.searcher.Search(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if len(hits) == 0 {
		c.JSON(http.StatusOK, gin.H{"answer": "", "sources": []string{},
			"note": "no indexed RCA content matched the question"})
		return
	}

	passages := make([]agents.Passage, 0, len(hits))
	sources := make([]string, 0, len(hits))
	for _, hit := range hits {
		passages = append(passages, agents.Passage{Source: hit.Source, Content: hit.Content})
		sources = append(sources, hit.Source)
	}

	answer, err := s.answerer.Answer(c.Request.Context(), req.Question, passages)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer, "sources": sources})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	all, err := s.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, buildSummary(all))
}
