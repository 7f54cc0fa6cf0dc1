// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks supervisor activity on a private registry so several
// supervisors can coexist in one test binary.
type Metrics struct {
	registry *prometheus.Registry

	spawns  prometheus.Counter
	exits   *prometheus.CounterVec
	reloads prometheus.Counter
	state   prometheus.Gauge
}

// NewMetrics creates the supervisor collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		spawns: factory.NewCounter(prometheus.CounterOpts{
			Name: "gearbox_supervisor_spawns_total",
			Help: "Total worker processes started by the supervisor",
		}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gearbox_supervisor_child_exits_total",
			Help: "Total worker exits by exit code",
		}, []string{"code"}),
		reloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "gearbox_supervisor_reloads_total",
			Help: "Total worker exits requesting a reload",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gearbox_supervisor_state",
			Help: "Current supervisor state (0 starting, 1 running, 2 restarting, 3 stopping, 4 stopped)",
		}),
	}
}

// WriteFile writes the text exposition format to path, replacing it
// atomically.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) recordSpawn() {
	if m == nil {
		return
	}
	m.spawns.Inc()
}

func (m *Metrics) recordExit(code int) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(strconv.Itoa(code)).Inc()
	if code == ReloadExitCode {
		m.reloads.Inc()
	}
}

func (m *Metrics) recordState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
