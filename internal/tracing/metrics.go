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

package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sync outcomes recorded by SyncMetrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SyncMetrics records sync run outcomes and durations. Only the sync kind
// carries aggregate run metrics.
type SyncMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewSyncMetrics creates the sync instruments on the given meter provider.
func NewSyncMetrics(mp metric.MeterProvider) (*SyncMetrics, error) {
	meter := mp.Meter("relay")

	runs, err := meter.Int64Counter(
		"relay_sync_runs_total",
		metric.WithDescription("Total number of sync runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"relay_sync_run_duration_seconds",
		metric.WithDescription("Duration of successful sync runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{runs: runs, duration: duration}, nil
}

// RecordSuccess counts a successful run and records its duration.
func (m *SyncMetrics) RecordSuccess(ctx context.Context, syncType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", OutcomeSuccess),
		attribute.String("sync_type", syncType),
	))
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("sync_type", syncType),
	))
}

// RecordFailure counts a failed run.
func (m *SyncMetrics) RecordFailure(ctx context.Context, syncType string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", OutcomeFailure),
		attribute.String("sync_type", syncType),
	))
}
