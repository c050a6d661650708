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

	"github.com/faultlineio/faultline/services/llm"
	"golang.org/x/time/rate"
)

// Passage is one retrieved chunk of RCA context handed to the answerer.
type Passage struct {
	Source  string
	Content string
}

// Answerer consolidates retrieved RCA chunks into a cited answer. It is
// the read side of the system; it never touches incident state.
type Answerer struct {
	caller
}

func NewAnswerer(client llm.LLMClient, limiter *rate.Limiter, timeout time.Duration) *Answerer {
	return &Answerer{
		caller: caller{
			role:    RoleAnswerer,
			client:  client,
			limiter: limiter,
			timeout: timeout,
			system:  answerSystemPrompt,
			params:  defaultParams(),
		},
	}
}

// Answer responds to the question using only the provided passages.
func (a *Answerer) Answer(ctx context.Context, question string, passages []Passage) (string, error) {
	if len(passages) == 0 {
		return "", llm.NewPermanent("agents.answer", fmt.Errorf("no context passages for question"))
	}

	var b strings.Builder
	b.WriteString("QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nCONTEXT:\n")
	for _, p := range passages {
		fmt.Fprintf(&b, "[source: %s]\n%s\n---\n", p.Source, p.Content)
	}

	out, err := a.invoke(ctx, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
