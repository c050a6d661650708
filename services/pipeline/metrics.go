// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	incidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faultline",
		Name:      "incidents_total",
		Help:      "Incidents that finished processing, by outcome.",
	}, []string{"outcome"})

	stageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faultline",
		Name:      "stage_retries_total",
		Help:      "Retries of transient stage failures, by stage.",
	}, []string{"stage"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faultline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time per pipeline stage, including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faultline",
		Name:      "queue_depth",
		Help:      "Incidents waiting in the dispatch queue.",
	})
)
