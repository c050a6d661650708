// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM returns canned responses in order, then repeats the last one.
type scriptedLLM struct {
	responses []string
	err       error
	calls     int
	lastSys   string
	lastUser  string
}

func (s *scriptedLLM) Generate(_ context.Context, system, prompt string, _ llm.GenerationParams) (string, error) {
	s.calls++
	s.lastSys = system
	s.lastUser = prompt
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name     string
		decision string
		want     incident.Action
	}{
		{"restart", "Restart node gNB-2214", incident.ActionRestartNode},
		{"restart lowercase", "restart node enb-104", incident.ActionRestartNode},
		{"reroute", "Reroute traffic from CELL-881 to neighbor CELL-882", incident.ActionReroute},
		{"reroute no neighbor keyword", "Reroute traffic from CELL-881 to CELL-882", incident.ActionReroute},
		{"qos quoted", "Adjust QoS profile to 'voice-priority'", incident.ActionAdjustQoS},
		{"qos bare", "Adjust QoS profile to voice-priority", incident.ActionAdjustQoS},
		{"scale", "Scale capacity on CELL-442 by 20%", incident.ActionScaleCapacity},
		{"scale spaced percent", "Scale capacity on CELL-442 by 20 %", incident.ActionScaleCapacity},
		{"none", "No action needed.", incident.ActionNone},
		{"escalate explicit", "Escalate issue.", incident.ActionEscalate},
		{"garbage degrades to escalate", "I think we should monitor the situation", incident.ActionEscalate},
		{"empty degrades to escalate", "", incident.ActionEscalate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := parseDecision(tt.decision)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDecisionVariables(t *testing.T) {
	action, vars := parseDecision("Reroute traffic from CELL-881 to neighbor CELL-882")
	require.Equal(t, incident.ActionReroute, action)
	assert.Equal(t, "CELL-881", vars.cellID)
	assert.Equal(t, "CELL-882", vars.neighborID)

	action, vars = parseDecision("Scale capacity on CELL-42 by 25%")
	require.Equal(t, incident.ActionScaleCapacity, action)
	assert.Equal(t, "CELL-42", vars.cellID)
	assert.Equal(t, 25, vars.percent)
}

func TestActionSimulator(t *testing.T) {
	t.Run("qos decision with stabilized outcome", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"Adjust QoS profile to 'voice-priority'"}}
		sim := NewActionSimulator(client, nil, time.Second)
		sim.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

		res, err := sim.Simulate(context.Background(), "[10:00] WARN packet loss 3.1% on voice bearers")
		require.NoError(t, err)
		assert.Equal(t, incident.ActionAdjustQoS, res.Action)
		assert.Contains(t, res.Outcome, "QoS profile switched to 'voice-priority'")
		assert.Contains(t, res.Outcome, "2026-08-28 10:00:00")
		assert.Contains(t, res.Outcome, "stabilized")
	})

	t.Run("provider error propagates", func(t *testing.T) {
		client := &scriptedLLM{err: llm.NewTransient("openai.chat", errors.New("429"))}
		sim := NewActionSimulator(client, nil, time.Second)

		_, err := sim.Simulate(context.Background(), "some log")
		require.Error(t, err)
		assert.True(t, llm.IsTransient(err))
	})
}

func TestSeverityClassifier(t *testing.T) {
	t.Run("parses code and rationale", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"P2 - Single-cell congestion degrading many subscribers."}}
		cls := NewSeverityClassifier(client, nil, time.Second)

		res, err := cls.Classify(context.Background(), "narrative")
		require.NoError(t, err)
		assert.Equal(t, incident.SeverityP2, res.Level)
		assert.Equal(t, "Single-cell congestion degrading many subscribers.", res.Rationale)
	})

	t.Run("role-prefixed output", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"SEVERITY_CLASSIFIER > P1 - Core outage."}}
		cls := NewSeverityClassifier(client, nil, time.Second)

		res, err := cls.Classify(context.Background(), "narrative")
		require.NoError(t, err)
		assert.Equal(t, incident.SeverityP1, res.Level)
		assert.Equal(t, "Core outage.", res.Rationale)
	})

	t.Run("missing code is transient", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"this incident looks pretty bad"}}
		cls := NewSeverityClassifier(client, nil, time.Second)

		_, err := cls.Classify(context.Background(), "narrative")
		require.Error(t, err)
		assert.True(t, llm.IsTransient(err))
	})
}

func TestRCAAuthor(t *testing.T) {
	inc := incident.New("log_42", "log_42.txt", "[10:00] WARN PRB utilization 91% on CELL-442")
	inc.SetAction(incident.ActionAdjustQoS, "[10:01] INFO KPIs stabilized")
	inc.SetSeverity(incident.SeverityP2, "Congestion affecting many users.")

	t.Run("passes narrative and severity to the model", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"# RCA Report - log_42\n\n## Incident Summary\ncongestion"}}
		author := NewRCAAuthor(client, nil, time.Second)

		doc, err := author.Author(context.Background(), inc)
		require.NoError(t, err)
		assert.Contains(t, client.lastUser, "PRB utilization 91%")
		assert.Contains(t, client.lastUser, "KPIs stabilized")
		assert.Contains(t, client.lastUser, "P2")
		assert.Contains(t, doc, "## Incident Summary")
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"```markdown\n# RCA Report - log_42\n\n## Root Cause\nqueue overflow\n```"}}
		author := NewRCAAuthor(client, nil, time.Second)

		doc, err := author.Author(context.Background(), inc)
		require.NoError(t, err)
		assert.Equal(t, "# RCA Report - log_42\n\n## Root Cause\nqueue overflow", doc)
	})

	t.Run("prepends header when missing", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"## Incident Summary\ncongestion on CELL-442"}}
		author := NewRCAAuthor(client, nil, time.Second)

		doc, err := author.Author(context.Background(), inc)
		require.NoError(t, err)
		assert.Contains(t, doc, "# RCA Report - log_42")
	})

	t.Run("unclassified incident is permanent", func(t *testing.T) {
		bare := incident.New("x", "x.txt", "raw")
		client := &scriptedLLM{responses: []string{"doc"}}
		author := NewRCAAuthor(client, nil, time.Second)

		_, err := author.Author(context.Background(), bare)
		require.Error(t, err)
		assert.False(t, llm.IsTransient(err))
		assert.Zero(t, client.calls)
	})

	t.Run("empty document is transient", func(t *testing.T) {
		client := &scriptedLLM{responses: []string{"```markdown\n```"}}
		author := NewRCAAuthor(client, nil, time.Second)

		_, err := author.Author(context.Background(), inc)
		require.Error(t, err)
		assert.True(t, llm.IsTransient(err))
	})
}

func TestCleanMarkdown(t *testing.T) {
	assert.Equal(t, "# Doc", CleanMarkdown("  # Doc  "))
	assert.Equal(t, "# Doc", CleanMarkdown("```markdown\n# Doc\n```"))
	assert.Equal(t, "# Doc", CleanMarkdown("```\n# Doc\n```"))
	assert.Equal(t, "# Doc", CleanMarkdown("Sure, here you go:\n```markdown\n# Doc\n```\nHope this helps."))
}
