// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"strings"
	"testing"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestChunkTextRespectsLimit(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 200) // ~4600 chars
	chunks := ChunkText(text, 800)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 800)
		assert.NotEqual(t, " ", chunk[:1], "chunks are trimmed")
	}

	// No words lost or split.
	rejoined := strings.Fields(strings.Join(chunks, " "))
	assert.Equal(t, strings.Fields(text), rejoined)
}

func TestChunkTextSmallInput(t *testing.T) {
	assert.Nil(t, ChunkText("   ", 800))
	assert.Equal(t, []string{"single"}, ChunkText("single", 800))
}

func TestChunkTextOversizedWord(t *testing.T) {
	long := strings.Repeat("x", 1000)
	chunks := ChunkText("short "+long+" tail", 800)
	require.Len(t, chunks, 3)
	assert.Equal(t, "short", chunks[0])
	assert.Equal(t, long, chunks[1])
	assert.Equal(t, "tail", chunks[2])
}

func TestChunkTextDefaultSize(t *testing.T) {
	chunks := ChunkText("a b c", 0)
	assert.Equal(t, []string{"a b c"}, chunks)
}

func TestParseHits(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"RcaChunk": []interface{}{
					map[string]interface{}{
						"content":     "## Root Cause\nqueue overflow",
						"source":      "RCA_log_42.md",
						"incident_id": "log_42",
						"severity":    "P2",
						"_additional": map[string]interface{}{"certainty": 0.91},
					},
					map[string]interface{}{
						"content": "## Preventive Measures",
						"source":  "RCA_log_7.md",
					},
				},
			},
		},
	}

	hits, err := parseHits(resp, "RcaChunk")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "RCA_log_42.md", hits[0].Source)
	assert.Equal(t, "log_42", hits[0].IncidentID)
	assert.Equal(t, "P2", hits[0].Severity)
	assert.InDelta(t, 0.91, hits[0].Certainty, 1e-9)
	assert.Zero(t, hits[1].Certainty)
}

func TestParseHitsEmptyClass(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{"RcaChunk": nil},
		},
	}
	hits, err := parseHits(resp, "RcaChunk")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestParseHitsMalformed(t *testing.T) {
	_, err := parseHits(&models.GraphQLResponse{Data: map[string]models.JSONObject{}}, "RcaChunk")
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(config.VectorConfig{WeaviateURL: "://bad", ClassName: "RcaChunk"}, nil, logging.Default())
	assert.Error(t, err)

	_, err = New(config.VectorConfig{WeaviateURL: "http://localhost:8080", ClassName: ""}, nil, logging.Default())
	assert.Error(t, err)

	c, err := New(config.VectorConfig{WeaviateURL: "http://localhost:8080", ClassName: "RcaChunk"}, nil, logging.Default())
	require.NoError(t, err)
	assert.Equal(t, "RcaChunk", c.class)
}
