// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package incident defines the core data model shared by the ingestion,
// pipeline, storage and dashboard services.
package incident

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Status tracks an incident's position in the processing state machine.
type Status string

const (
	StatusNew                = Status("NEW")
	StatusActionTaken        = Status("ACTION_TAKEN")
	StatusSeverityClassified = Status("SEVERITY_CLASSIFIED")
	StatusRCAWritten         = Status("RCA_WRITTEN")
	StatusFailed             = Status("FAILED")
)

// Terminal reports whether no further processing is possible.
func (s Status) Terminal() bool {
	return s == StatusRCAWritten || s == StatusFailed
}

// Severity is the incident priority classification.
type Severity string

const (
	SeverityP1 = Severity("P1") // critical: outage, multiple nodes down
	SeverityP2 = Severity("P2") // major: service degradation
	SeverityP3 = Severity("P3") // minor: isolated issue, early warning
)

var severityPattern = regexp.MustCompile(`\bP[123]\b`)

// ParseSeverity extracts a P1/P2/P3 token from model output such as
// "SEVERITY_CLASSIFIER > P2". The second return is false if no token
// is present.
func ParseSeverity(s string) (Severity, bool) {
	m := severityPattern.FindString(strings.ToUpper(s))
	if m == "" {
		return "", false
	}
	return Severity(m), true
}

// Action is the closed vocabulary of simulated corrective actions.
type Action string

const (
	ActionRestartNode   = Action("restart-node")
	ActionReroute       = Action("reroute-traffic")
	ActionAdjustQoS     = Action("adjust-qos")
	ActionScaleCapacity = Action("scale-capacity")
	ActionEscalate      = Action("escalate")
	ActionNone          = Action("no-action")
)

// Incident is one unit of fault data moving through the pipeline.
//
// RawText is immutable once ingested. Action, Severity and RCADocument are
// write-once: setters on an already-populated field are no-ops so that
// reprocessing can never corrupt a completed incident.
type Incident struct {
	ID            string   `json:"id"`
	Source        string   `json:"source"` // originating file or stream key
	RawText       string   `json:"raw_text"`
	Status        Status   `json:"status"`
	Action        Action   `json:"action,omitempty"`
	Outcome       string   `json:"outcome,omitempty"` // synthetic ops log appended by the simulator
	Severity      Severity `json:"severity,omitempty"`
	Rationale     string   `json:"rationale,omitempty"` // classifier justification
	RCADocument   string   `json:"rca_document,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`

	IngestedAt time.Time `json:"ingested_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New creates a fresh incident in the NEW state.
func New(id, source, rawText string) *Incident {
	now := time.Now().UTC()
	return &Incident{
		ID:         id,
		Source:     source,
		RawText:    rawText,
		Status:     StatusNew,
		IngestedAt: now,
		UpdatedAt:  now,
	}
}

// IDFromFilename derives a stable incident id from a source file name:
// the base name without extension, lowercased, with path separators and
// spaces flattened. "logs/Log_42.txt" -> "log_42".
func IDFromFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, base)
}

// SetAction records the simulated action and its synthetic outcome.
// Returns false if an action was already recorded (write-once).
func (inc *Incident) SetAction(action Action, outcome string) bool {
	if inc.Action != "" {
		return false
	}
	inc.Action = action
	inc.Outcome = outcome
	inc.Status = StatusActionTaken
	inc.UpdatedAt = time.Now().UTC()
	return true
}

// SetSeverity records the classification. Returns false if severity was
// already set (write-once).
func (inc *Incident) SetSeverity(severity Severity, rationale string) bool {
	if inc.Severity != "" {
		return false
	}
	inc.Severity = severity
	inc.Rationale = rationale
	inc.Status = StatusSeverityClassified
	inc.UpdatedAt = time.Now().UTC()
	return true
}

// SetRCA records the terminal RCA document. Returns false if a document
// was already written (write-once, terminal).
func (inc *Incident) SetRCA(doc string) bool {
	if inc.RCADocument != "" {
		return false
	}
	inc.RCADocument = doc
	inc.Status = StatusRCAWritten
	inc.UpdatedAt = time.Now().UTC()
	return true
}

// MarkFailed records a terminal failure, preserving whatever stages
// already committed. A no-op on incidents that already completed.
func (inc *Incident) MarkFailed(reason string) {
	if inc.Status == StatusRCAWritten {
		return
	}
	inc.Status = StatusFailed
	inc.FailureReason = reason
	inc.UpdatedAt = time.Now().UTC()
}

// ResetFailure rewinds a FAILED incident to the last committed stage so
// it can be reprocessed. Committed write-once fields are untouched.
// Returns false if the incident is not in the FAILED state.
func (inc *Incident) ResetFailure() bool {
	if inc.Status != StatusFailed {
		return false
	}
	inc.FailureReason = ""
	switch {
	case inc.Severity != "":
		inc.Status = StatusSeverityClassified
	case inc.Action != "":
		inc.Status = StatusActionTaken
	default:
		inc.Status = StatusNew
	}
	inc.UpdatedAt = time.Now().UTC()
	return true
}

// Narrative assembles the full text the RCA author sees: the raw log plus
// the simulated ops outcome, in log order.
func (inc *Incident) Narrative() string {
	if inc.Outcome == "" {
		return inc.RawText
	}
	return strings.TrimRight(inc.RawText, "\n") + "\n" + inc.Outcome
}

// ReportFilename is the deterministic RCA output file name for this
// incident, e.g. "RCA_log_42.md".
func (inc *Incident) ReportFilename() string {
	return fmt.Sprintf("RCA_%s.md", inc.ID)
}
