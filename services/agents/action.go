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
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/llm"
	"golang.org/x/time/rate"
)

// ActionSimulator decides one corrective action for an incident and
// synthesizes the operations log lines that action would have produced.
// No real network element is ever touched.
type ActionSimulator struct {
	caller
	now func() time.Time
}

// ActionResult is the simulator's output: the parsed action, the raw
// model decision line, and the synthetic ops log to append to the
// incident narrative.
type ActionResult struct {
	Action   incident.Action
	Decision string
	Outcome  string
}

func NewActionSimulator(client llm.LLMClient, limiter *rate.Limiter, timeout time.Duration) *ActionSimulator {
	return &ActionSimulator{
		caller: caller{
			role:    RoleActionSimulator,
			client:  client,
			limiter: limiter,
			timeout: timeout,
			system:  actionSystemPrompt,
			params:  defaultParams(),
		},
		now: time.Now,
	}
}

// Simulate picks an action for the raw incident text.
//
// An unparseable model decision degrades to escalate rather than failing
// the pipeline: a human gets the incident either way.
func (s *ActionSimulator) Simulate(ctx context.Context, rawText string) (ActionResult, error) {
	decision, err := s.invoke(ctx, "LOG CONTENT:\n"+rawText)
	if err != nil {
		return ActionResult{}, err
	}
	decision = strings.TrimSpace(decision)

	action, vars := parseDecision(decision)
	if action == incident.ActionEscalate && !strings.Contains(strings.ToLower(decision), "escalate") {
		slog.Warn("unparseable action decision, escalating", "decision", decision)
	}
	return ActionResult{
		Action:   action,
		Decision: decision,
		Outcome:  s.outcomeFor(action, vars),
	}, nil
}

var (
	restartPattern = regexp.MustCompile(`(?i)restart\s+node\s+([\w.-]+)`)
	reroutePattern = regexp.MustCompile(`(?i)reroute\s+traffic\s+from\s+([\w.-]+)\s+to\s+(?:neighbor\s+)?([\w.-]+)`)
	qosPattern     = regexp.MustCompile(`(?i)adjust\s+qos\s+profile\s+to\s+'?([\w.-]+)'?`)
	scalePattern   = regexp.MustCompile(`(?i)scale\s+capacity\s+on\s+([\w.-]+)\s+by\s+(\d+)\s*%`)
)

type decisionVars struct {
	nodeID     string
	cellID     string
	neighborID string
	profile    string
	percent    int
}

// parseDecision maps a decision line onto the closed action vocabulary.
// Anything that matches no rule is treated as an escalation.
func parseDecision(decision string) (incident.Action, decisionVars) {
	lower := strings.ToLower(decision)

	if m := restartPattern.FindStringSubmatch(decision); m != nil {
		return incident.ActionRestartNode, decisionVars{nodeID: m[1]}
	}
	if m := reroutePattern.FindStringSubmatch(decision); m != nil {
		return incident.ActionReroute, decisionVars{cellID: m[1], neighborID: m[2]}
	}
	if m := qosPattern.FindStringSubmatch(decision); m != nil {
		return incident.ActionAdjustQoS, decisionVars{profile: m[1]}
	}
	if m := scalePattern.FindStringSubmatch(decision); m != nil {
		percent, _ := strconv.Atoi(m[2])
		return incident.ActionScaleCapacity, decisionVars{cellID: m[1], percent: percent}
	}
	if strings.Contains(lower, "no action needed") {
		return incident.ActionNone, decisionVars{}
	}
	return incident.ActionEscalate, decisionVars{}
}

// outcomeFor writes the synthetic confirmation entries an operator would
// see after the action, in the same format as the incoming logs.
func (s *ActionSimulator) outcomeFor(action incident.Action, v decisionVars) string {
	now := s.now().Format("2006-01-02 15:04:05")
	var entries []string
	switch action {
	case incident.ActionRestartNode:
		entries = []string{
			fmt.Sprintf("[%s] ALERT  Ops: Node %s restart requested.", now, v.nodeID),
			fmt.Sprintf("[%s] INFO   Node-%s: Restart initiated.", now, v.nodeID),
			fmt.Sprintf("[%s] INFO   Node-%s: Services up. Heartbeat OK.", now, v.nodeID),
			fmt.Sprintf("[%s] INFO   KPIs: RRC setup success 98%%, PRB util 54%%, packet loss 0.3%%. Stabilized.", now),
		}
	case incident.ActionReroute:
		entries = []string{
			fmt.Sprintf("[%s] ALERT  Ops: Rerouting traffic from %s to %s.", now, v.cellID, v.neighborID),
			fmt.Sprintf("[%s] INFO   Scheduler: eNB/NR handover preference updated.", now),
			fmt.Sprintf("[%s] INFO   KPIs: %s PRB 88%%->64%%, %s PRB 52%%->71%%. Latency normalized.", now, v.cellID, v.neighborID),
		}
	case incident.ActionAdjustQoS:
		entries = []string{
			fmt.Sprintf("[%s] ALERT  Ops: QoS profile switched to '%s'.", now, v.profile),
			fmt.Sprintf("[%s] INFO   PolicyCtrl: GBR bearers prioritized, jitter budget tuned.", now),
			fmt.Sprintf("[%s] INFO   KPIs: MOS 4.3, jitter 9ms, loss 0.2%%. Voice stabilized.", now),
		}
	case incident.ActionScaleCapacity:
		gain := v.percent - 3
		if gain < 0 {
			gain = 0
		}
		entries = []string{
			fmt.Sprintf("[%s] ALERT  Ops: Scaling capacity on %s by %d%%.", now, v.cellID, v.percent),
			fmt.Sprintf("[%s] INFO   RAN: Carrier aggregation / beam configs optimized.", now),
			fmt.Sprintf("[%s] INFO   KPIs: Throughput +%d%%, PRB util 92%%->71%%. Stabilized.", now, gain),
		}
	case incident.ActionNone:
		entries = []string{
			fmt.Sprintf("[%s] INFO   Ops: KPIs within thresholds. No action taken.", now),
		}
	default: // escalate
		entries = []string{
			fmt.Sprintf("[%s] ALERT  Ops: Unable to auto-remediate. Escalating to NOC L2.", now),
			fmt.Sprintf("[%s] INFO   Ticket: Created incident with logs attached.", now),
		}
	}
	return strings.Join(entries, "\n")
}
