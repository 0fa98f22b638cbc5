/*
 * This file is part of the device-activator distribution (https://github.com/mlipscombe/device-activator).
 * Copyright (c) 2021-2026 Mark Lipscombe.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

package metrics

import (
	"time"

	"github.com/mlipscombe/device-activator/activation"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "device_activator"

// Collector records activation exchanges and session transitions as prometheus metrics.
type Collector struct {
	exchanges   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
}

// New creates a Collector and registers its metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "total",
				Help:      "Activation requests sent, by body encoding, reply content type and result.",
			},
			[]string{"mode", "content_type", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "duration_seconds",
				Help:      "Round-trip time of activation requests.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session state transitions.",
			},
			[]string{"from", "to"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "outcomes_total",
				Help:      "Sessions that reached a terminal state.",
			},
			[]string{"state"},
		),
	}

	reg.MustRegister(c.exchanges, c.latency, c.transitions, c.outcomes)
	return c
}

func (c *Collector) ExchangeCompleted(mode activation.ContentMode, contentType activation.ContentType, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.exchanges.WithLabelValues(mode.String(), contentType.String(), result).Inc()
	c.latency.WithLabelValues(mode.String()).Observe(elapsed.Seconds())
}

func (c *Collector) StateChanged(sessionID string, from, to activation.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	if to.Terminal() {
		c.outcomes.WithLabelValues(to.String()).Inc()
	}
}

var _ activation.Observer = (*Collector)(nil)
