// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes the write-writer queue depth so an operator can
// see backpressure before it turns into slow ticks.
type MetricsCollector struct {
	db         *DB
	queueDepth *prometheus.Desc
}

func NewMetricsCollector(db *DB) *MetricsCollector {
	return &MetricsCollector{
		db: db,
		queueDepth: prometheus.NewDesc(
			"mlm_db_write_queue_depth",
			"Number of write requests queued or in flight through the single writer goroutine",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.queueDepth,
		prometheus.GaugeValue,
		float64(c.db.QueueDepth()),
	)
}
