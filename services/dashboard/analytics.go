// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"strings"

	"github.com/faultlineio/faultline/services/incident"
)

// Summary aggregates the incident population for the analytics endpoint.
type Summary struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	ByAction   map[string]int `json:"by_action"`
	ByCategory map[string]int `json:"by_category"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	InFlight   int            `json:"in_flight"`
}

// categoryKeywords maps fault categories to the log phrases that signal
// them. First match wins in the order network, hardware, software.
var categoryKeywords = map[string][]string{
	"network": {
		"congestion", "prb", "handover", "reroute", "fiber", "backhaul",
		"latency", "packet loss", "jitter", "throughput", "routing",
	},
	"hardware": {
		"node down", "heartbeat missed", "power", "temperature", "fan",
		"card failure", "rectifier", "battery",
	},
	"software": {
		"crash", "process", "memory leak", "restart loop", "software",
		"version", "config push", "rollback",
	},
}

var categoryOrder = []string{"network", "hardware", "software"}

// categorize buckets an incident by scanning its raw log text.
func categorize(inc *incident.Incident) string {
	text := strings.ToLower(inc.RawText)
	for _, category := range categoryOrder {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(text, keyword) {
				return category
			}
		}
	}
	return "other"
}

func buildSummary(all []*incident.Incident) Summary {
	s := Summary{
		Total:      len(all),
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
		ByAction:   map[string]int{},
		ByCategory: map[string]int{},
	}

	for _, inc := range all {
		s.ByStatus[string(inc.Status)]++
		if inc.Severity != "" {
			s.BySeverity[string(inc.Severity)]++
		}
		if inc.Action != "" {
			s.ByAction[string(inc.Action)]++
		}
		s.ByCategory[categorize(inc)]++

		switch inc.Status {
		case incident.StatusRCAWritten:
			s.Completed++
		case incident.StatusFailed:
			s.Failed++
		default:
			s.InFlight++
		}
	}
	return s
}
