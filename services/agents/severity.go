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

// SeverityClassifier assigns a P1/P2/P3 level to an incident narrative.
type SeverityClassifier struct {
	caller
}

// SeverityResult carries the classification and its justification.
type SeverityResult struct {
	Level     incident.Severity
	Rationale string
}

func NewSeverityClassifier(client llm.LLMClient, limiter *rate.Limiter, timeout time.Duration) *SeverityClassifier {
	return &SeverityClassifier{
		caller: caller{
			role:    RoleSeverityClassifier,
			client:  client,
			limiter: limiter,
			timeout: timeout,
			system:  severitySystemPrompt,
			params:  defaultParams(),
		},
	}
}

// Classify returns the severity for the narrative, which includes the raw
// log plus the simulated ops outcome so the classifier sees whether the
// action already stabilized the KPIs.
//
// Output without a P1/P2/P3 token is reported transient: a retried call
// usually yields a well-formed answer.
func (c *SeverityClassifier) Classify(ctx context.Context, narrative string) (SeverityResult, error) {
	out, err := c.invoke(ctx, "LOG CONTENT TO ANALYZE:\n"+narrative)
	if err != nil {
		return SeverityResult{}, err
	}

	level, ok := incident.ParseSeverity(out)
	if !ok {
		return SeverityResult{}, llm.NewTransient("agents.severity",
			fmt.Errorf("no severity code in model output %q", truncate(out, 120)))
	}
	return SeverityResult{Level: level, Rationale: extractRationale(out)}, nil
}

// extractRationale strips the severity token and role prefixes, keeping
// the one-line justification.
func extractRationale(out string) string {
	s := strings.TrimSpace(out)
	if idx := strings.Index(s, ">"); idx >= 0 && idx < 40 {
		s = strings.TrimSpace(s[idx+1:])
	}
	for _, code := range []string{"P1", "P2", "P3"} {
		s = strings.TrimPrefix(s, code)
	}
	s = strings.TrimLeft(s, " -:")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
