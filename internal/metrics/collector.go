// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/s0up/mlm/internal/budget"
	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/events"
)

// EventCollector exposes spec §7's observable event counts and §4.2's
// budget snapshot, pulled fresh on every scrape rather than instrumented
// inline at each call site, the same pull-on-Collect shape the teacher's
// TorrentCollector uses over its SyncManager.
type EventCollector struct {
	reader *events.Reader
	oracle *budget.Oracle

	eventsTotalDesc *prometheus.Desc

	unsatUsedDesc  *prometheus.Desc
	unsatLimitDesc *prometheus.Desc
	wedgesDesc     *prometheus.Desc
	ratioDesc      *prometheus.Desc
}

func NewEventCollector(reader *events.Reader, oracle *budget.Oracle) *EventCollector {
	return &EventCollector{
		reader: reader,
		oracle: oracle,

		eventsTotalDesc: prometheus.NewDesc(
			"mlm_events_total",
			"Total number of recorded events by kind (grabbed, linked, cleaned, error)",
			[]string{"kind"},
			nil,
		),
		unsatUsedDesc: prometheus.NewDesc(
			"mlm_budget_unsat_used",
			"Unsatisfied-seed slots currently in use",
			nil, nil,
		),
		unsatLimitDesc: prometheus.NewDesc(
			"mlm_budget_unsat_limit",
			"Unsatisfied-seed slot limit reported by the tracker, before the configured buffer",
			nil, nil,
		),
		wedgesDesc: prometheus.NewDesc(
			"mlm_budget_wedges",
			"Wedge credits remaining on the tracker account",
			nil, nil,
		),
		ratioDesc: prometheus.NewDesc(
			"mlm_budget_ratio",
			"Current account upload/download ratio",
			nil, nil,
		),
	}
}

func (c *EventCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsTotalDesc
	ch <- c.unsatUsedDesc
	ch <- c.unsatLimitDesc
	ch <- c.wedgesDesc
	ch <- c.ratioDesc
}

func (c *EventCollector) Collect(ch chan<- prometheus.Metric) {
	if c.oracle != nil {
		snap := c.oracle.Current()
		ch <- prometheus.MustNewConstMetric(c.unsatUsedDesc, prometheus.GaugeValue, float64(snap.UnsatUsed))
		ch <- prometheus.MustNewConstMetric(c.unsatLimitDesc, prometheus.GaugeValue, float64(snap.UnsatLimit))
		ch <- prometheus.MustNewConstMetric(c.wedgesDesc, prometheus.GaugeValue, float64(snap.Wedges))
		if snap.DownloadedBytes > 0 {
			ratio := float64(snap.UploadedBytes) / float64(snap.DownloadedBytes)
			ch <- prometheus.MustNewConstMetric(c.ratioDesc, prometheus.GaugeValue, ratio)
		}
	}

	if c.reader == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, kind := range []domain.EventKind{domain.EventGrabbed, domain.EventLinked, domain.EventCleaned, domain.EventError} {
		count, err := c.reader.CountByKind(ctx, kind)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("metrics: failed to count events by kind")
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.eventsTotalDesc, prometheus.CounterValue, float64(count), string(kind))
	}
}
