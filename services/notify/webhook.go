// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify posts pipeline lifecycle events to a Slack-compatible
// incoming webhook. Notification is best-effort: delivery failures are
// logged and never fail the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/google/uuid"
)

// EventKind is the closed set of notification triggers.
type EventKind string

const (
	EventDetected   = EventKind("incident_detected")
	EventAction     = EventKind("action_taken")
	EventClassified = EventKind("severity_classified")
	EventRCADone    = EventKind("rca_completed")
	EventFailed     = EventKind("pipeline_failed")
)

// Event is one lifecycle notification about an incident.
type Event struct {
	ID       string // unique per delivery, set by NewEvent
	Kind     EventKind
	Incident *incident.Incident
	Detail   string // free-form, e.g. the decision line or failure reason
}

// NewEvent builds an event with a fresh delivery id so receivers can
// dedupe retried webhooks.
func NewEvent(kind EventKind, inc *incident.Incident, detail string) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Incident: inc, Detail: detail}
}

// Notifier delivers pipeline events. Implementations must be safe for
// concurrent use and must never block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards all events. Used when no webhook URL is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Webhook posts Slack attachment payloads to an incoming webhook URL.
type Webhook struct {
	url    string
	client *http.Client
	log    *logging.Logger
}

// New returns a webhook notifier, or a Nop when url is empty so callers
// never need to branch on configuration.
func New(url string, log *logging.Logger) Notifier {
	if url == "" {
		return Nop{}
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

type slackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notify delivers ev to the webhook. Errors are logged, not returned.
func (w *Webhook) Notify(ctx context.Context, ev Event) {
	body, err := json.Marshal(buildPayload(ev))
	if err != nil {
		w.log.Warn("webhook payload marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warn("webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("webhook delivery failed", "kind", string(ev.Kind), "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.log.Warn("webhook rejected", "kind", string(ev.Kind), "status", resp.StatusCode)
	}
}

func buildPayload(ev Event) slackPayload {
	inc := ev.Incident
	att := slackAttachment{
		Color: severityColor(inc.Severity),
		Title: titleFor(ev.Kind, inc.ID),
		Fields: []slackField{
			{Title: "Incident", Value: inc.ID, Short: true},
			{Title: "Status", Value: string(inc.Status), Short: true},
		},
	}
	if inc.Severity != "" {
		att.Fields = append(att.Fields, slackField{Title: "Severity", Value: string(inc.Severity), Short: true})
	}
	if inc.Action != "" {
		att.Fields = append(att.Fields, slackField{Title: "Action", Value: string(inc.Action), Short: true})
	}
	if ev.Detail != "" {
		att.Text = ev.Detail
	}
	if ev.ID != "" {
		att.Fields = append(att.Fields, slackField{Title: "Event", Value: ev.ID, Short: true})
	}
	return slackPayload{Attachments: []slackAttachment{att}}
}

func titleFor(kind EventKind, id string) string {
	switch kind {
	case EventDetected:
		return fmt.Sprintf(":rotating_light: Incident detected: %s", id)
	case EventAction:
		return fmt.Sprintf(":wrench: Corrective action simulated for %s", id)
	case EventClassified:
		return fmt.Sprintf(":vertical_traffic_light: Severity classified for %s", id)
	case EventRCADone:
		return fmt.Sprintf(":white_check_mark: RCA completed for %s", id)
	case EventFailed:
		return fmt.Sprintf(":x: Pipeline failed for %s", id)
	default:
		return fmt.Sprintf("Incident update: %s", id)
	}
}

// severityColor maps the priority onto Slack attachment colors. Unknown
// or unclassified incidents render neutral gray.
func severityColor(sev incident.Severity) string {
	switch sev {
	case incident.SeverityP1:
		return "danger"
	case incident.SeverityP2:
		return "warning"
	case incident.SeverityP3:
		return "good"
	default:
		return "#aab0b5"
	}
}
