// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/faultlineio/faultline/services/incident"
)

// Reports writes finished RCA documents as Markdown files so operators
// can read them without touching the database.
type Reports struct {
	dir string
}

// NewReports returns a report writer rooted at dir, creating it if needed.
func NewReports(dir string) (*Reports, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("report directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create report directory %s: %w", dir, err)
	}
	return &Reports{dir: dir}, nil
}

// Dir returns the report directory.
func (r *Reports) Dir() string { return r.dir }

// Write saves the incident's RCA document to RCA_<id>.md and returns the
// path. Writes go through a temp file and rename so a crash never leaves
// a half-written report.
func (r *Reports) Write(inc *incident.Incident) (string, error) {
	if inc.RCADocument == "" {
		return "", fmt.Errorf("incident %s has no RCA document", inc.ID)
	}

	path := filepath.Join(r.dir, inc.ReportFilename())
	tmp, err := os.CreateTemp(r.dir, ".rca-*")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(inc.RCADocument); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report for %s: %w", inc.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report for %s: %w", inc.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish report for %s: %w", inc.ID, err)
	}
	return path, nil
}

// Read returns the stored report for an incident id.
func (r *Reports) Read(id string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, fmt.Sprintf("RCA_%s.md", id)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListFiles returns the Markdown report paths under the report directory.
func (r *Reports) ListFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(r.dir, "RCA_*.md"))
}
