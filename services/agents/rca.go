// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/llm"
	"golang.org/x/time/rate"
)

// RCAAuthor produces the terminal Markdown root-cause-analysis document.
type RCAAuthor struct {
	caller
}

func NewRCAAuthor(client llm.LLMClient, limiter *rate.Limiter, timeout time.Duration) *RCAAuthor {
	return &RCAAuthor{
		caller: caller{
			role:    RoleRCAAuthor,
			client:  client,
			limiter: limiter,
			timeout: timeout,
			system:  rcaSystemPrompt,
			params:  defaultParams(),
		},
	}
}

// Author writes the RCA document for a fully classified incident.
// The returned Markdown always starts with a top-level header.
func (a *RCAAuthor) Author(ctx context.Context, inc *incident.Incident) (string, error) {
	if inc.Severity == "" {
		return "", llm.NewPermanent("agents.rca", fmt.Errorf("incident %s has no severity", inc.ID))
	}

	prompt := fmt.Sprintf("LOG CONTENT:\n%s\n\nSEVERITY CLASSIFICATION:\n%s - %s\n\nACTION TAKEN:\n%s",
		inc.Narrative(), inc.Severity, inc.Rationale, inc.Action)

	out, err := a.invoke(ctx, prompt)
	if err != nil {
		return "", err
	}

	doc := CleanMarkdown(out)
	if strings.TrimSpace(doc) == "" {
		return "", llm.NewTransient("agents.rca", fmt.Errorf("empty RCA document from model"))
	}
	if !strings.HasPrefix(strings.TrimSpace(doc), "#") {
		doc = fmt.Sprintf("# RCA Report - %s\n\n%s", inc.ID, doc)
	}
	return doc, nil
}

// CleanMarkdown extracts the document from a fenced ```markdown block when
// the model wraps its answer, and trims stray fences.
func CleanMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "```markdown"); start >= 0 {
		rest := s[start+len("```markdown"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}
