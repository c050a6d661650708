// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorstore indexes RCA documents in Weaviate and serves
// semantic retrieval over them.
package vectorstore

import "strings"

// DefaultChunkSize is the approximate chunk length in characters.
// Small enough for focused retrieval, large enough to keep an RCA
// section intact.
const DefaultChunkSize = 800

// ChunkText splits text into word-aligned chunks of at most maxChars
// characters. Words longer than maxChars become their own chunk rather
// than being split mid-word.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkSize
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var b strings.Builder
	for _, word := range words {
		if b.Len() > 0 && b.Len()+1+len(word) > maxChars {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
