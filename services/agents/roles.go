// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agents implements the three stateless LLM-backed roles of the
// incident pipeline: the action simulator, the severity classifier and the
// RCA author.
//
// Each role is bound at construction to its instruction template, timeout
// and generation parameters. Roles never mutate incident state; they return
// structured results and the pipeline coordinator commits them.
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/faultlineio/faultline/services/llm"
	"golang.org/x/time/rate"
)

// Role identifies one of the closed set of pipeline roles.
type Role int

const (
	RoleActionSimulator Role = iota
	RoleSeverityClassifier
	RoleRCAAuthor
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleActionSimulator:
		return "action_simulator"
	case RoleSeverityClassifier:
		return "severity_classifier"
	case RoleRCAAuthor:
		return "rca_author"
	case RoleAnswerer:
		return "answerer"
	default:
		return "unknown"
	}
}

// caller is the shared invocation core: rate limiting, bounded timeout,
// and the role's fixed system instruction.
type caller struct {
	role    Role
	client  llm.LLMClient
	limiter *rate.Limiter
	timeout time.Duration
	system  string
	params  llm.GenerationParams
}

func (c *caller) invoke(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%s: rate limiter: %w", c.role, err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out, err := c.client.Generate(ctx, c.system, prompt, c.params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.role, err)
	}
	return out, nil
}

func defaultParams() llm.GenerationParams {
	temp := float32(0.7)
	maxTokens := 2000
	return llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
}
