// Copyright 2025 KisanMitra
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

package curator

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kisanmitra_curator_turns_total",
			Help: "Total number of turns processed by the curator",
		},
		[]string{"status"},
	)
	promTurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kisanmitra_curator_turn_duration_milliseconds",
			Help:    "Turn processing duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 15000, 30000, 60000},
		},
		[]string{"degraded"},
	)
	promTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kisanmitra_curator_tasks_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"tool", "status"},
	)
	promTaskRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kisanmitra_curator_task_retries_total",
			Help: "Total number of retry attempts across all tasks",
		},
		[]string{"tool"},
	)
	promAbandonedTasks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kisanmitra_curator_abandoned_tasks_total",
			Help: "Tasks still running when the plan deadline fired",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promTurnsTotal)
	prometheus.MustRegister(promTurnDuration)
	prometheus.MustRegister(promTasksTotal)
	prometheus.MustRegister(promTaskRetries)
	prometheus.MustRegister(promAbandonedTasks)
}

// Plain counters backing the JSON /metrics endpoint (legacy format).
var (
	statTurnsTotal    int64
	statTurnsDegraded int64
	statTasksTotal    int64
	statStarted       = time.Now()
)

// MetricsSnapshot is the simplified metrics payload.
type MetricsSnapshot struct {
	TurnsTotal    int64 `json:"turns_total"`
	TurnsDegraded int64 `json:"turns_degraded"`
	TasksTotal    int64 `json:"tasks_total"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func recordTurnStat(degraded bool) {
	atomic.AddInt64(&statTurnsTotal, 1)
	if degraded {
		atomic.AddInt64(&statTurnsDegraded, 1)
	}
}

func recordTaskStat() {
	atomic.AddInt64(&statTasksTotal, 1)
}

func snapshotMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		TurnsTotal:    atomic.LoadInt64(&statTurnsTotal),
		TurnsDegraded: atomic.LoadInt64(&statTurnsDegraded),
		TasksTotal:    atomic.LoadInt64(&statTasksTotal),
		UptimeSeconds: int64(time.Since(statStarted).Seconds()),
	}
}
