// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/config"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/llm"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("faultline.vectorstore")

// Client indexes RCA chunks in a Weaviate class and searches them.
// Vectors are computed locally through the configured embedder; the
// class carries no vectorizer module.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	wv       *weaviate.Client
	embedder llm.Embedder
	class    string
	log      *logging.Logger
}

// New connects to the Weaviate instance named in cfg. The connection is
// lazy; use CheckSchema to verify the server and class are reachable.
func New(cfg config.VectorConfig, embedder llm.Embedder, log *logging.Logger) (*Client, error) {
	u, err := url.Parse(cfg.WeaviateURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.WeaviateURL)
	}
	if cfg.ClassName == "" {
		return nil, fmt.Errorf("weaviate class name must not be empty")
	}
	if log == nil {
		log = logging.Default()
	}

	wv, err := weaviate.NewClient(weaviate.Config{
		Host:   u.Host,
		Scheme: u.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Client{wv: wv, embedder: embedder, class: cfg.ClassName, log: log}, nil
}

// EnsureSchema creates the RCA chunk class if it does not exist yet.
// Run once at deployment time (the `index init` command).
func (c *Client) EnsureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "EnsureSchema")
	defer span.End()

	exists, err := c.wv.Schema().ClassExistenceChecker().WithClassName(c.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", c.class, err)
	}
	if exists {
		c.log.Info("weaviate class already exists", "class", c.class)
		return nil
	}

	class := &models.Class{
		Class:       c.class,
		Description: "Chunked RCA documents for semantic retrieval",
		Vectorizer:  "none", // vectors are supplied by the embedder
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}, Description: "Chunk text"},
			{Name: "source", DataType: []string{"text"}, Description: "Originating report file name"},
			{Name: "chunk_index", DataType: []string{"int"}, Description: "Position within the source document"},
			{Name: "incident_id", DataType: []string{"text"}, Description: "Incident the chunk belongs to"},
			{Name: "severity", DataType: []string{"text"}, Description: "Incident severity at indexing time"},
		},
	}
	if err := c.wv.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", c.class, err)
	}

	c.log.Info("weaviate class created", "class", c.class)
	return nil
}

// CheckSchema verifies the configured class exists. A missing class is a
// configuration error, not something to silently create at runtime.
func (c *Client) CheckSchema(ctx context.Context) error {
	exists, err := c.wv.Schema().ClassExistenceChecker().WithClassName(c.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("reach weaviate: %w", err)
	}
	if !exists {
		return fmt.Errorf("weaviate class %s does not exist; run `faultline index init`", c.class)
	}
	return nil
}

// IndexReport chunks the incident's RCA document, embeds each chunk and
// upserts them. Previous chunks for the same report are removed first,
// so re-indexing a reprocessed incident never duplicates content.
func (c *Client) IndexReport(ctx context.Context, inc *incident.Incident) error {
	if inc.RCADocument == "" {
		return fmt.Errorf("incident %s has no RCA document to index", inc.ID)
	}
	return c.IndexDocument(ctx, inc.ReportFilename(), inc.ID, string(inc.Severity), inc.RCADocument)
}

// IndexDocument indexes arbitrary document text under a source name.
func (c *Client) IndexDocument(ctx context.Context, source, incidentID, severity, text string) error {
	ctx, span := tracer.Start(ctx, "IndexDocument")
	defer span.End()

	chunks := ChunkText(text, DefaultChunkSize)
	if len(chunks) == 0 {
		return fmt.Errorf("document %s is empty", source)
	}

	if err := c.deleteBySource(ctx, source); err != nil {
		return err
	}

	objects := make([]*models.Object, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := c.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed chunk %d of %s: %w", i, source, err)
		}
		objects = append(objects, &models.Object{
			Class:  c.class,
			Vector: vector,
			Properties: map[string]interface{}{
				"content":     chunk,
				"source":      source,
				"chunk_index": i,
				"incident_id": incidentID,
				"severity":    severity,
			},
		})
	}

	resp, err := c.wv.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch insert for %s: %w", source, err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch insert for %s: %s", source, obj.Result.Errors.Error[0].Message)
		}
	}

	c.log.Info("document indexed", "source", source, "chunks", len(chunks))
	return nil
}

// deleteBySource removes every chunk previously indexed for a source.
func (c *Client) deleteBySource(ctx context.Context, source string) error {
	where := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueText(source)

	_, err := c.wv.Batch().ObjectsBatchDeleter().
		WithClassName(c.class).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete stale chunks for %s: %w", source, err)
	}
	return nil
}
