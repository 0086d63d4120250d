// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

// Package metrics exposes a Prometheus registry over spec §7's event
// counts and §4.2's budget snapshot, per SPEC_FULL.md §10.6. Gated by
// domain.Config.MetricsEnabled and served on its own MetricsHost/Port
// listener so scraping never competes with the thin read-only web UI.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/s0up/mlm/internal/budget"
	"github.com/s0up/mlm/internal/events"
)

type Manager struct {
	registry       *prometheus.Registry
	eventCollector *EventCollector
}

func NewManager(reader *events.Reader, oracle *budget.Oracle) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eventCollector := NewEventCollector(reader, oracle)
	registry.MustRegister(eventCollector)

	log.Info().Msg("metrics manager initialized with event collector")

	return &Manager{
		registry:       registry,
		eventCollector: eventCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
