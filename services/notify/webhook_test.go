// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsNopWithoutURL(t *testing.T) {
	n := New("", logging.Default())
	_, ok := n.(Nop)
	assert.True(t, ok)
}

func TestWebhookNotify(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inc := incident.New("log_42", "log_42.txt", "raw")
	inc.SetAction(incident.ActionAdjustQoS, "outcome")
	inc.SetSeverity(incident.SeverityP2, "congestion")

	n := New(srv.URL, logging.Default())
	n.Notify(context.Background(), Event{Kind: EventClassified, Incident: inc, Detail: "congestion"})

	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "warning", att.Color)
	assert.Contains(t, att.Title, "log_42")
	assert.Equal(t, "congestion", att.Text)

	fields := map[string]string{}
	for _, f := range att.Fields {
		fields[f.Title] = f.Value
	}
	assert.Equal(t, "P2", fields["Severity"])
	assert.Equal(t, "adjust-qos", fields["Action"])
}

func TestNewEventAssignsUniqueIDs(t *testing.T) {
	inc := incident.New("log_1", "log_1.txt", "raw")
	a := NewEvent(EventDetected, inc, "")
	b := NewEvent(EventDetected, inc, "")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, "danger", severityColor(incident.SeverityP1))
	assert.Equal(t, "warning", severityColor(incident.SeverityP2))
	assert.Equal(t, "good", severityColor(incident.SeverityP3))
	assert.Equal(t, "#aab0b5", severityColor(""))
}

func TestWebhookFailureDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close() // connection refused from here on

	n := New(srv.URL, logging.Default())
	n.Notify(context.Background(), Event{Kind: EventFailed, Incident: incident.New("x", "x", "raw")})
}
