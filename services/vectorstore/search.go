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

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Hit is one retrieved chunk with its similarity certainty.
type Hit struct {
	Source     string  `json:"source"`
	IncidentID string  `json:"incident_id"`
	Severity   string  `json:"severity"`
	Content    string  `json:"content"`
	Certainty  float64 `json:"certainty"`
}

// Search embeds the query and returns the topK most similar chunks.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()

	if topK < 1 {
		topK = 5
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	nearVector := c.wv.GraphQL().NearVectorArgBuilder().WithVector(vector)

	// Request certainty (always [0,1]) instead of distance, which varies
	// by metric.
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "incident_id"},
		{Name: "severity"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := c.wv.GraphQL().Get().
		WithClassName(c.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search failed: %s", result.Errors[0].Message)
	}

	hits, err := parseHits(result, c.class)
	if err != nil {
		return nil, err
	}

	c.log.Debug("semantic search done", "query_len", len(query), "hits", len(hits))
	return hits, nil
}

// parseHits unwraps the GraphQL Get response for the given class.
func parseHits(resp *models.GraphQLResponse, class string) ([]Hit, error) {
	get, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed search response: missing Get")
	}
	rows, ok := get[class].([]interface{})
	if !ok {
		// No results for the class comes back as null.
		return nil, nil
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		hit := Hit{
			Source:     stringProp(obj, "source"),
			IncidentID: stringProp(obj, "incident_id"),
			Severity:   stringProp(obj, "severity"),
			Content:    stringProp(obj, "content"),
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				hit.Certainty = certainty
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func stringProp(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}
